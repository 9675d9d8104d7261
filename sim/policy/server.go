package policy

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/stacksim/sim/decision"
)

// DefaultPath is the decision route the robots post to.
const DefaultPath = "/gmrs"

// Server exposes a Reactive policy as a decision service.
type Server struct {
	policy *Reactive
	path   string
	logger logrus.FieldLogger
}

// NewServer creates a Server answering on path (DefaultPath when empty).
func NewServer(policy *Reactive, path string, logger logrus.FieldLogger) *Server {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{policy: policy, path: path, logger: logger}
}

func (s *Server) RegisterRoutes(h *server.Hertz) {
	h.POST(s.path, s.decide)
	h.POST(s.path+"/reset", s.reset)
	h.GET("/healthz", s.healthz)
}

func (s *Server) decide(c context.Context, ctx *app.RequestContext) {
	perceptions, err := decision.ParseRequest(ctx.Request.Body())
	if err != nil {
		s.logger.WithError(err).Warn("rejecting decision request")
		writeError(ctx, err)
		return
	}
	commands, err := s.policy.Decide(c, perceptions)
	if err != nil {
		writeError(ctx, err)
		return
	}
	s.logger.WithField("agents", len(commands)).Debug("decided")
	ctx.JSON(consts.StatusOK, decision.EncodeCommands(commands))
}

func (s *Server) reset(_ context.Context, ctx *app.RequestContext) {
	s.policy.Forget()
	ctx.JSON(consts.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) healthz(_ context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]string{"status": "ok"})
}

func writeError(ctx *app.RequestContext, err error) {
	status := consts.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, decision.ErrMalformedRequest):
		status, code = consts.StatusBadRequest, "malformed_request"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = consts.StatusServiceUnavailable, "cancelled"
	}
	ctx.JSON(status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": err.Error(),
		},
	})
}
