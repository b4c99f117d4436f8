package routes

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/pkg-restore/internal/identity"
	"github.com/any-hub/pkg-restore/internal/layout"
)

// RegisterLayoutRoutes 暴露 /-/layouts 诊断接口，列出可用的仓库布局及示例路径。
func RegisterLayoutRoutes(app *fiber.App, activeKey, ext string) {
	if app == nil {
		return
	}

	app.Get("/-/layouts", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"active":  activeKey,
			"layouts": encodeLayouts(layout.Keys(), activeKey, ext),
		})
	})

	app.Get("/-/layouts/:key", func(c fiber.Ctx) error {
		key := strings.ToLower(strings.TrimSpace(c.Params("key")))
		l, ok := layout.Resolve(key)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "layout_not_found"})
		}
		return c.JSON(encodeLayout(l, activeKey, ext))
	})
}

type layoutPayload struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Example     string `json:"example"`
	Active      bool   `json:"active"`
}

var exampleIdentity = identity.Identity{Name: "Newtonsoft.Json", Version: "13.0.1"}

func encodeLayouts(keys []string, activeKey, ext string) []layoutPayload {
	result := make([]layoutPayload, 0, len(keys))
	for _, key := range keys {
		l, ok := layout.Resolve(key)
		if !ok {
			continue
		}
		result = append(result, encodeLayout(l, activeKey, ext))
	}
	return result
}

func encodeLayout(l layout.Layout, activeKey, ext string) layoutPayload {
	return layoutPayload{
		Key:         l.Key,
		Description: l.Description,
		Example:     l.Path(exampleIdentity, ext),
		Active:      l.Key == activeKey,
	}
}
