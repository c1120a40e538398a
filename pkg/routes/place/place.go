package place

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/places"
	"github.com/Ramsey-B/fern/pkg/routes/request"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type ResolveRequest struct {
	FormattedAddress string           `json:"formatted_address" validate:"required,max=500"`
	DisplayName      string           `json:"display_name"`
	Latitude         *float64         `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude        *float64         `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	Kind             models.PlaceKind `json:"kind"`
	UnitIdentifier   string           `json:"unit_identifier"`
	SourceSystem     string           `json:"source_system" validate:"required"`
}

func Register(g *echo.Group) {
	g.POST("/resolve", Resolve)
	g.GET("/:id", Get)
}

func Resolve(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "place_handler.Resolve")
	defer span.End()

	req, err := request.Bind[ResolveRequest](c)
	if err != nil {
		return err
	}

	if (req.Latitude == nil) != (req.Longitude == nil) {
		return httperror.NewHTTPError(http.StatusBadRequest, "latitude and longitude must be given together")
	}

	ctx, dedup, err := ectoinject.GetContext[*places.Deduplicator](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	res, err := dedup.FindOrCreatePlace(ctx, places.PlaceInput{
		FormattedAddress: req.FormattedAddress,
		DisplayName:      req.DisplayName,
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		Kind:             req.Kind,
		UnitIdentifier:   req.UnitIdentifier,
		SourceSystem:     req.SourceSystem,
	})
	if errors.Is(err, places.ErrEmptyAddress) {
		return httperror.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	return c.JSON(status, res)
}

func Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "place_handler.Get")
	defer span.End()

	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}

	ctx, dedup, err := ectoinject.GetContext[*places.Deduplicator](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	place, err := dedup.GetPlace(ctx, id)
	if err != nil {
		return err
	}
	if place == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "place not found")
	}
	return c.JSON(http.StatusOK, place)
}
