package cat

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/cats"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/request"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ResolveRequest carries either a microchip or a source animal id. A
// microchip wins when both are present; the animal id is then recorded as an
// extra identifier.
type ResolveRequest struct {
	Microchip      string               `json:"microchip" validate:"required_without=SourceAnimalID"`
	SourceAnimalID string               `json:"source_animal_id" validate:"required_without=Microchip"`
	Name           string               `json:"name"`
	Sex            string               `json:"sex"`
	Breed          string               `json:"breed"`
	Colors         string               `json:"colors"`
	AlteredStatus  string               `json:"altered_status"`
	OwnershipType  models.OwnershipType `json:"ownership_type"`
	IsDeceased     bool                 `json:"is_deceased"`
	SourceSystem   string               `json:"source_system" validate:"required"`
}

func Register(g *echo.Group) {
	g.POST("/resolve", Resolve)
	g.GET("/:id", Get)
}

func Resolve(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "cat_handler.Resolve")
	defer span.End()

	req, err := request.Bind[ResolveRequest](c)
	if err != nil {
		return err
	}

	ctx, resolver, err := ectoinject.GetContext[*cats.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	in := cats.CatInput{
		Microchip:      req.Microchip,
		SourceAnimalID: req.SourceAnimalID,
		Name:           req.Name,
		Sex:            req.Sex,
		Breed:          req.Breed,
		Colors:         req.Colors,
		AlteredStatus:  req.AlteredStatus,
		OwnershipType:  req.OwnershipType,
		IsDeceased:     req.IsDeceased,
		SourceSystem:   req.SourceSystem,
	}

	var res *cats.Resolution
	if req.Microchip != "" {
		if req.SourceAnimalID != "" {
			in.SourceAnimalIDs = []string{req.SourceAnimalID}
		}
		res, err = resolver.FindOrCreateCatByMicrochip(ctx, in)
	}
	// An unusable chip falls back to the animal id.
	if err == nil && (res == nil || res.CatID == nil) && req.SourceAnimalID != "" {
		in.SourceAnimalIDs = nil
		res, err = resolver.FindOrCreateCatByAnimalID(ctx, in)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	status := http.StatusOK
	switch {
	case res.CatID == nil:
		status = http.StatusUnprocessableEntity
	case res.Created:
		status = http.StatusCreated
	}
	return c.JSON(status, res)
}

func Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "cat_handler.Get")
	defer span.End()

	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}

	ctx, resolver, err := ectoinject.GetContext[*cats.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	cat, err := resolver.GetCat(ctx, id)
	if err != nil {
		return err
	}
	if cat == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "cat not found")
	}
	return c.JSON(http.StatusOK, cat)
}
