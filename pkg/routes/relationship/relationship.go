package relationship

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/linking"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/request"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Reader lists the edges touching an entity.
type Reader interface {
	ListEdges(ctx context.Context, kind models.RelationshipKind, entityID uuid.UUID) ([]models.Relationship, error)
}

type LinkRequest struct {
	SubjectID        uuid.UUID `json:"subject_id" validate:"required"`
	ObjectID         uuid.UUID `json:"object_id" validate:"required"`
	RelationshipType string    `json:"relationship_type" validate:"required"`
	EvidenceType     string    `json:"evidence_type"`
	Confidence       float64   `json:"confidence" validate:"gte=0,lte=1"`
	SourceSystem     string    `json:"source_system"`
}

func Register(g *echo.Group) {
	g.POST("/:kind", Link)
	g.GET("/:kind", List)
}

func kindParam(c echo.Context) (models.RelationshipKind, error) {
	kind := models.RelationshipKind(c.Param("kind"))
	if !kind.Valid() {
		return "", httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown relationship kind %q", kind))
	}
	return kind, nil
}

// Link upserts one edge. Skips (missing endpoint, unknown type) are 422s
// carrying the skip reason.
func Link(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "relationship_handler.Link")
	defer span.End()

	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	req, err := request.Bind[LinkRequest](c)
	if err != nil {
		return err
	}

	ctx, linker, err := ectoinject.GetContext[*linking.Linker](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	res, err := linker.Link(ctx, kind, linking.LinkInput{
		SubjectID:        req.SubjectID,
		ObjectID:         req.ObjectID,
		RelationshipType: req.RelationshipType,
		EvidenceType:     req.EvidenceType,
		Confidence:       req.Confidence,
		SourceSystem:     req.SourceSystem,
	})
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	status := http.StatusOK
	switch {
	case !res.Linked:
		status = http.StatusUnprocessableEntity
	case res.Created:
		status = http.StatusCreated
	}
	return c.JSON(status, res)
}

func List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "relationship_handler.List")
	defer span.End()

	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	entityID, err := uuid.Parse(c.QueryParam("entity_id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "entity_id query parameter must be a uuid")
	}

	ctx, reader, err := ectoinject.GetContext[Reader](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	edges, err := reader.ListEdges(ctx, kind, entityID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, edges)
}
