package web

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-iris/pkg/eventlog"
	"github.com/teslashibe/go-iris/pkg/hub"
)

// AnnounceRequest is the body of POST /api/announce. Without text the
// current scene is described.
type AnnounceRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	if s.ctrl == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, errNoController.Error())
	}
	return c.JSON(s.ctrl.Status())
}

// handleEvents returns the most recent logged events, oldest first.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", s.cfg.RecentEvents)
	if limit <= 0 {
		limit = s.cfg.RecentEvents
	}
	events, err := eventlog.ReadLast(s.cfg.EventFile, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if events == nil {
		events = []eventlog.Event{}
	}
	return c.JSON(events)
}

func (s *Server) handleAnnounce(c *fiber.Ctx) error {
	if s.ctrl == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, errNoController.Error())
	}

	var req AnnounceRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid body: " + err.Error(),
			})
		}
	}

	var accepted bool
	if text := strings.TrimSpace(req.Text); text != "" {
		accepted = s.ctrl.Say(text)
	} else {
		accepted = s.ctrl.Describe()
	}

	status := fiber.StatusAccepted
	if !accepted {
		// The speaker is busy and the request was dropped.
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{"accepted": accepted})
}

func (s *Server) handleDetection(on bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.ctrl == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, errNoController.Error())
		}
		s.ctrl.SetContinuous(on)
		return c.JSON(fiber.Map{"continuous": on})
	}
}

// handleEventsWS streams hub messages until the client goes away.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	client := hub.NewClient(s.ctx, s.events, c)
	if client == nil {
		c.Close()
		return
	}
	client.Run()
}
