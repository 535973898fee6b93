package controller

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"mailprobe/models"
	"mailprobe/utils"
	"mailprobe/verifier"
)

// maxAddressLength is the RFC 5321 path limit.
const maxAddressLength = 320

type VerificationController struct {
	Service *verifier.Service
	Logger  logrus.FieldLogger
}

func NewVerificationController(service *verifier.Service, logger logrus.FieldLogger) *VerificationController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &VerificationController{
		Service: service,
		Logger:  logger,
	}
}

type verifyRequest struct {
	Email  string   `json:"email" validate:"omitempty,max=320"`
	Emails []string `json:"emails" validate:"omitempty,dive,max=320"`
}

type batchResponse struct {
	Results []models.VerificationResult `json:"results"`
}

// VerifyEmail handles POST /verify for a single address or a batch
func (vc *VerificationController) VerifyEmail(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid JSON body", nil)
	}

	single := req.Email != ""
	batch := req.Emails != nil
	switch {
	case single && batch:
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Provide either 'email' or 'emails', not both", nil)
	case !single && !batch:
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Provide 'email' (string) or 'emails' (string[])", nil)
	}
	if len(req.Emails) > vc.Service.MaxBatch {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, batchLimitMessage(vc.Service.MaxBatch), nil)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request", err)
	}

	ctx := c.UserContext()
	if single {
		return c.JSON(vc.Service.VerifyOne(ctx, req.Email))
	}

	results, err := vc.Service.VerifyBatch(ctx, req.Emails)
	if errors.Is(err, verifier.ErrBatchTooLarge) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, batchLimitMessage(vc.Service.MaxBatch), nil)
	}
	if err != nil {
		return err
	}
	return c.JSON(batchResponse{Results: results})
}

type streamRequest struct {
	Emails []string `json:"emails" validate:"required,dive,max=320"`
}

type streamItem struct {
	Index  int                       `json:"index"`
	Result models.VerificationResult `json:"result"`
}

// StreamVerification handles the websocket on /verify/stream. The client
// sends one {"emails": [...]} message and receives {"index", "result"} for
// each address as it completes, then {"done": true}.
func (vc *VerificationController) StreamVerification(c *websocket.Conn) {
	defer c.Close()

	var req streamRequest
	if err := c.ReadJSON(&req); err != nil {
		vc.Logger.WithError(err).Debug("stream: bad request message")
		c.WriteJSON(fiber.Map{"error": "Invalid JSON message"})
		return
	}
	if len(req.Emails) > vc.Service.MaxBatch {
		c.WriteJSON(fiber.Map{"error": batchLimitMessage(vc.Service.MaxBatch)})
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		c.WriteJSON(fiber.Map{"error": "Invalid request", "details": err.Error()})
		return
	}

	// stop verifying once the client goes away
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()
	// the connection is recycled once this handler returns
	defer func() {
		c.Close()
		<-readerDone
	}()

	err := vc.Service.StreamBatch(ctx, req.Emails, func(i int, r models.VerificationResult) error {
		return c.WriteJSON(streamItem{Index: i, Result: r})
	})
	if err != nil {
		vc.Logger.WithError(err).Info("stream: client went away")
		return
	}
	c.WriteJSON(fiber.Map{"done": true})
}

func batchLimitMessage(max int) string {
	return "Maximum " + strconv.Itoa(max) + " emails per batch"
}
