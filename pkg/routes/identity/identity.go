package identity

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/routes/request"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type ResolveRequest struct {
	FirstName    string `json:"first_name" validate:"max=200"`
	LastName     string `json:"last_name" validate:"max=200"`
	Email        string `json:"email" validate:"max=320"`
	Phone        string `json:"phone" validate:"max=50"`
	Address      string `json:"address" validate:"max=500"`
	SourceSystem string `json:"source_system" validate:"required"`
}

type SkeletonRequest struct {
	FirstName    string `json:"first_name" validate:"required"`
	LastName     string `json:"last_name"`
	Address      string `json:"address"`
	SourceSystem string `json:"source_system" validate:"required"`
}

func Register(g *echo.Group) {
	g.POST("/resolve", Resolve)
	g.POST("/skeleton", CreateSkeleton)
}

// Resolve runs the identity resolver on one incoming contact. Rejections and
// review outcomes are 200s; the body carries the decision.
func Resolve(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "identity_handler.Resolve")
	defer span.End()

	req, err := request.Bind[ResolveRequest](c)
	if err != nil {
		return err
	}

	ctx, resolver, err := ectoinject.GetContext[*matching.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	res, err := resolver.ResolveIdentity(ctx, matching.ResolveInput{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		Phone:        req.Phone,
		Address:      req.Address,
		SourceSystem: req.SourceSystem,
	})
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	return c.JSON(http.StatusOK, res)
}

func CreateSkeleton(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "identity_handler.CreateSkeleton")
	defer span.End()

	req, err := request.Bind[SkeletonRequest](c)
	if err != nil {
		return err
	}

	ctx, resolver, err := ectoinject.GetContext[*matching.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	res, err := resolver.CreateSkeletonPerson(ctx, matching.SkeletonInput{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Address:      req.Address,
		SourceSystem: req.SourceSystem,
	})
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
