package linking

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/orchestrator"
	"github.com/Ramsey-B/fern/pkg/routes/request"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// TriggerAPI marks runs started over HTTP.
const TriggerAPI = "api"

func Register(g *echo.Group) {
	g.POST("/runs", StartRun)
	g.GET("/runs", ListRuns)
	g.GET("/runs/:id", GetRun)
}

// StartRun executes one pipeline run and returns its record. The run row is
// returned even when the run aborted or failed.
func StartRun(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "linking_handler.StartRun")
	defer span.End()

	ctx, orch, err := ectoinject.GetContext[*orchestrator.Orchestrator](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	run, err := orch.Run(ctx, TriggerAPI)
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil && run == nil:
		tracing.RecordError(span, err)
		return err
	case errors.Is(err, orchestrator.ErrPreflightFailed):
		return c.JSON(http.StatusServiceUnavailable, run)
	case err != nil:
		tracing.RecordError(span, err)
		return c.JSON(http.StatusInternalServerError, run)
	}
	return c.JSON(http.StatusOK, run)
}

func ListRuns(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "linking_handler.ListRuns")
	defer span.End()

	limit, err := request.QueryInt(c, "limit", 50)
	if err != nil {
		return err
	}
	if limit <= 0 || limit > 500 {
		return httperror.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
	}

	ctx, orch, err := ectoinject.GetContext[*orchestrator.Orchestrator](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	runs, err := orch.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

func GetRun(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "linking_handler.GetRun")
	defer span.End()

	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}

	ctx, orch, err := ectoinject.GetContext[*orchestrator.Orchestrator](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	run, err := orch.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "linking run not found")
	}
	return c.JSON(http.StatusOK, run)
}
