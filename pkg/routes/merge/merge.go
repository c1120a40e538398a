package merge

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/request"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// AuditReader lists the merge and archive history of an entity.
type AuditReader interface {
	ListAudits(ctx context.Context, kind models.EntityKind, entityID uuid.UUID) ([]models.MergeAudit, error)
}

type MergeRequest struct {
	LoserID  uuid.UUID `json:"loser_id" validate:"required"`
	WinnerID uuid.UUID `json:"winner_id" validate:"required"`
	Reason   string    `json:"reason" validate:"required"`
	Actor    string    `json:"actor"`
}

type ArchiveRequest struct {
	Reason string `json:"reason" validate:"required"`
	Actor  string `json:"actor"`
}

// Register mounts merges under g and archive under archive.
func Register(g, archive *echo.Group) {
	g.POST("/:kind", Merge)
	g.GET("/:kind/:id", History)
	archive.POST("/:kind/:id", Archive)
}

func kindParam(c echo.Context) (models.EntityKind, error) {
	kind := models.EntityKind(c.Param("kind"))
	if !kind.Valid() {
		return "", httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown entity kind %q", kind))
	}
	return kind, nil
}

// Merge absorbs loser into winner. A skip is a 409 carrying the reason.
func Merge(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "merge_handler.Merge")
	defer span.End()

	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	req, err := request.Bind[MergeRequest](c)
	if err != nil {
		return err
	}

	ctx, engine, err := ectoinject.GetContext[*merging.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	res, err := engine.Merge(ctx, kind, req.LoserID, req.WinnerID, req.Reason, req.Actor)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	return c.JSON(statusOf(res), res)
}

func Archive(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "merge_handler.Archive")
	defer span.End()

	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}
	req, err := request.Bind[ArchiveRequest](c)
	if err != nil {
		return err
	}

	ctx, engine, err := ectoinject.GetContext[*merging.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	res, err := engine.Archive(ctx, kind, id, req.Reason, req.Actor)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	return c.JSON(statusOf(res), res)
}

func History(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "merge_handler.History")
	defer span.End()

	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}

	ctx, reader, err := ectoinject.GetContext[AuditReader](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	audits, err := reader.ListAudits(ctx, kind, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, audits)
}

func statusOf(res *merging.MergeResult) int {
	switch {
	case res.SkipReason == merging.SkipLoserMissing, res.SkipReason == merging.SkipWinnerMissing, res.SkipReason == merging.SkipMissing:
		return http.StatusNotFound
	case res.SkipReason != "":
		return http.StatusConflict
	}
	return http.StatusOK
}
