// Package echoambar exposes ambar projection handler as echo handler
package echoambar

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/aneshas/kafkaevents"
	"github.com/aneshas/kafkaevents/ambar"
	"github.com/labstack/echo/v4"
)

var _ Projector = (*ambar.Ambar)(nil)

// Projector is an interface for projecting events
type Projector interface {
	Project(ctx context.Context, projection kafkaevents.Projection, data []byte) error
}

// Wrap returns a func wrapper around Ambar projection handler which adapts it to echo.HandlerFunc
func Wrap(a Projector) func(projection kafkaevents.Projection) echo.HandlerFunc {
	return func(projection kafkaevents.Projection) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()

			req, err := io.ReadAll(r.Body)
			if err != nil {
				return err
			}

			err = a.Project(r.Context(), projection, req)
			if err != nil {
				c.Logger().Errorf("ambar projection failed: %v", err)

				if errors.Is(err, ambar.ErrNoRetry) {
					return c.JSONBlob(http.StatusOK, []byte(ambar.SuccessResp))
				}

				if errors.Is(err, ambar.ErrKeepItGoing) {
					return c.JSONBlob(http.StatusOK, []byte(ambar.KeepGoingResp))
				}

				return c.JSONBlob(http.StatusOK, []byte(ambar.RetryResp))
			}

			return c.JSONBlob(http.StatusOK, []byte(ambar.SuccessResp))
		}
	}
}
