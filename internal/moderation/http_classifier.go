package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HTTPClassifier delegates scoring to an external moderation service.
// The service receives a Content JSON body and answers with a Result JSON body.
type HTTPClassifier struct {
	endpoint string
	timeout  time.Duration
}

// NewHTTPClassifier 외부 검수 서버 클라이언트 생성
func NewHTTPClassifier(endpoint string, timeout time.Duration) *HTTPClassifier {
	return &HTTPClassifier{endpoint: endpoint, timeout: timeout}
}

func (h *HTTPClassifier) Classify(ctx context.Context, c Content) (Result, error) {
	timeout := h.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout || timeout <= 0 {
			timeout = left
		}
	}
	if timeout <= 0 {
		return Result{}, context.DeadlineExceeded
	}

	agent := fiber.Post(h.endpoint)
	agent.JSON(c)
	agent.Timeout(timeout)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return Result{}, fmt.Errorf("classifier request: %w", errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return Result{}, fmt.Errorf("classifier returned status %d", code)
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return Result{}, fmt.Errorf("decode classifier response: %w", err)
	}
	if res.Score < 0 || res.Score > 1 {
		return Result{}, fmt.Errorf("classifier score %v out of range", res.Score)
	}
	return res, nil
}
