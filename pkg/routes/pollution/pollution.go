package pollution

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/pollution"
	"github.com/Ramsey-B/fern/pkg/routes/request"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type ScanResponse struct {
	Findings []pollution.Finding `json:"findings"`
	Count    int                 `json:"count"`
}

func Register(g *echo.Group) {
	g.GET("", Scan)
}

// Scan is read-only; remediation goes through the merge and archive routes.
func Scan(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "pollution_handler.Scan")
	defer span.End()

	limit, err := request.QueryInt(c, "limit", 0)
	if err != nil {
		return err
	}
	if limit < 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "limit must not be negative")
	}

	ctx, monitor, err := ectoinject.GetContext[*pollution.Monitor](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	findings, err := monitor.Scan(ctx, pollution.ScanOptions{Limit: limit})
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	if findings == nil {
		findings = []pollution.Finding{}
	}
	return c.JSON(http.StatusOK, ScanResponse{Findings: findings, Count: len(findings)})
}
