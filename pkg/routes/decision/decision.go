package decision

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/request"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const maxPageSize = 500

type ReviewRequest struct {
	Reviewer string `json:"reviewer"`
}

type BulkApproveRequest struct {
	MinScore float64 `json:"min_score" validate:"gte=0,lte=1"`
	Reviewer string  `json:"reviewer"`
}

type BulkApproveResponse struct {
	Approved int `json:"approved"`
}

// Register registers match decision review routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.POST("/bulk-approve", BulkApprove)
	g.GET("/:id", Get)
	g.POST("/:id/approve", Approve)
	g.POST("/:id/reject", Reject)
}

// List filters decisions by decision_type, review_status, person_id and
// min_score.
func List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "decision_handler.List")
	defer span.End()

	filter := models.DecisionFilter{}
	if v := c.QueryParam("decision_type"); v != "" {
		dt := models.DecisionType(v)
		filter.DecisionType = &dt
	}
	if v := c.QueryParam("review_status"); v != "" {
		rs := models.ReviewStatus(v)
		filter.ReviewStatus = &rs
	}
	if v := c.QueryParam("person_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "person_id must be a uuid")
		}
		filter.PersonID = &id
	}
	minScore, err := request.QueryFloat(c, "min_score")
	if err != nil {
		return err
	}
	filter.MinScore = minScore
	if filter.Limit, err = request.QueryInt(c, "limit", 100); err != nil {
		return err
	}
	if filter.Offset, err = request.QueryInt(c, "offset", 0); err != nil {
		return err
	}
	if filter.Limit <= 0 || filter.Limit > maxPageSize {
		return httperror.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
	}

	ctx, resolver, err := ectoinject.GetContext[*matching.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	decisions, err := resolver.ListDecisions(ctx, filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, decisions)
}

func Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "decision_handler.Get")
	defer span.End()

	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}

	ctx, resolver, err := ectoinject.GetContext[*matching.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	decision, err := resolver.GetDecision(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, decision)
}

func Approve(c echo.Context) error {
	return review(c, models.ReviewApproved)
}

func Reject(c echo.Context) error {
	return review(c, models.ReviewRejected)
}

func review(c echo.Context, status models.ReviewStatus) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "decision_handler.Review")
	defer span.End()

	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}
	req, err := request.Bind[ReviewRequest](c)
	if err != nil {
		return err
	}
	reviewer, err := reviewerOf(c, req.Reviewer)
	if err != nil {
		return err
	}

	ctx, resolver, err := ectoinject.GetContext[*matching.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	var decision *models.MatchDecision
	if status == models.ReviewApproved {
		decision, err = resolver.ApproveDecision(ctx, id, reviewer)
	} else {
		decision, err = resolver.RejectDecision(ctx, id, reviewer)
	}
	if err != nil {
		return err
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{
			"decision_id": id,
			"status":      status,
		}).Info("Reviewed match decision")
	}

	return c.JSON(http.StatusOK, decision)
}

func BulkApprove(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "decision_handler.BulkApprove")
	defer span.End()

	req, err := request.Bind[BulkApproveRequest](c)
	if err != nil {
		return err
	}
	reviewer, err := reviewerOf(c, req.Reviewer)
	if err != nil {
		return err
	}

	ctx, resolver, err := ectoinject.GetContext[*matching.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	approved, err := resolver.BulkApprove(ctx, req.MinScore, reviewer)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, BulkApproveResponse{Approved: approved})
}

// reviewerOf prefers the body field, then the X-Actor header.
func reviewerOf(c echo.Context, fromBody string) (string, error) {
	if fromBody != "" {
		return fromBody, nil
	}
	if actor := context.GetActor(c.Request().Context()); actor != "" && actor != "system" {
		return actor, nil
	}
	return "", httperror.NewHTTPError(http.StatusBadRequest, "reviewer is required")
}
