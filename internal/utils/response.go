package utils

import "github.com/gofiber/fiber/v2"

func JSONSuccess(c *fiber.Ctx, status int, payload interface{}) error {
	return c.Status(status).JSON(fiber.Map{"status": "ok", "data": payload})
}

func JSONError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"status": "error", "message": msg})
}

// JSONFailure is JSONError with a machine readable code and a retry hint.
// extra, when non-nil, is merged into the body.
func JSONFailure(c *fiber.Ctx, status int, code, msg string, retryable bool, extra fiber.Map) error {
	body := fiber.Map{"status": "error", "message": msg, "code": code, "retryable": retryable}
	for k, v := range extra {
		body[k] = v
	}
	return c.Status(status).JSON(body)
}
