package http

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// 上游驗證後帶入的身分 header
const (
	HeaderUserID         = "X-User-ID"
	HeaderUserRole       = "X-User-Role"
	HeaderIdempotencyKey = "Idempotency-Key"
	RoleAdmin            = "admin"

	localUserID = "user_id"
	localRole   = "user_role"
)

// Identity 從 header 取出呼叫者，缺少或格式錯誤回 401
func Identity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get(HeaderUserID)
		if raw == "" {
			return fail(c, fiber.StatusUnauthorized, "No identity, authorization denied")
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			return fail(c, fiber.StatusUnauthorized, "Identity is not valid")
		}
		c.Locals(localUserID, userID)
		c.Locals(localRole, c.Get(HeaderUserRole))
		return c.Next()
	}
}

// AdminOnly 特權路由
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if role, _ := c.Locals(localRole).(string); role != RoleAdmin {
			return fail(c, fiber.StatusForbidden, "Admin access required")
		}
		return c.Next()
	}
}

// Required 檢查 JSON body 的必填欄位：不可缺少、不可為 null、字串不可為空白
func Required(fields ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		body := map[string]json.RawMessage{}
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid body")
		}
		for _, field := range fields {
			value, ok := body[field]
			if !ok || string(value) == "null" {
				return fail(c, fiber.StatusBadRequest, field+" is required")
			}
			var s string
			if json.Unmarshal(value, &s) == nil && strings.TrimSpace(s) == "" {
				return fail(c, fiber.StatusBadRequest, field+" cannot be empty")
			}
		}
		return c.Next()
	}
}

// RequestLogger 記錄每個請求的方法、路徑、狀態碼與耗時
func RequestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()

		level := slog.LevelDebug
		if status >= fiber.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.UserContext(), level, "http request",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		)
		return err
	}
}

func userID(c *fiber.Ctx) int64 {
	id, _ := c.Locals(localUserID).(int64)
	return id
}

// idempotencyKey 選填的 Idempotency-Key header，作為交易的 RefID
func idempotencyKey(c *fiber.Ctx) (uuid.UUID, error) {
	raw := c.Get(HeaderIdempotencyKey)
	if raw == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(raw)
}
