package routes

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/shellcache/internal/routing"
	"github.com/any-hub/shellcache/internal/strategy"
)

// RegisterStrategyRoutes 暴露 /-/strategies 诊断接口，列出已注册策略与当前分类映射。
func RegisterStrategyRoutes(app *fiber.App, mapping strategy.Mapping) {
	if app == nil {
		return
	}

	app.Get("/-/strategies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"strategies": encodeStrategies(strategy.List()),
			"mapping":    encodeMapping(mapping),
		})
	})

	app.Get("/-/strategies/:key", func(c fiber.Ctx) error {
		key := strings.ToLower(strings.TrimSpace(c.Params("key")))
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "strategy_key_required"})
		}
		meta, ok := strategy.Resolve(key)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "strategy_not_found"})
		}
		payload := encodeStrategy(meta)
		payload.Categories = categoriesFor(mapping, meta.Key)
		return c.JSON(payload)
	})
}

type strategyPayload struct {
	Key         string   `json:"key"`
	Description string   `json:"description"`
	Revalidates bool     `json:"revalidates"`
	Categories  []string `json:"categories,omitempty"`
}

type mappingPayload struct {
	Category string `json:"category"`
	Strategy string `json:"strategy"`
}

func encodeStrategies(metas []strategy.Metadata) []strategyPayload {
	if len(metas) == 0 {
		return nil
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].Key < metas[j].Key
	})
	result := make([]strategyPayload, 0, len(metas))
	for _, meta := range metas {
		result = append(result, encodeStrategy(meta))
	}
	return result
}

func encodeStrategy(meta strategy.Metadata) strategyPayload {
	return strategyPayload{
		Key:         meta.Key,
		Description: meta.Description,
		Revalidates: meta.Revalidates,
	}
}

// encodeMapping 按分类的固定顺序输出映射，未映射的分类省略。
func encodeMapping(mapping strategy.Mapping) []mappingPayload {
	result := make([]mappingPayload, 0, len(mapping))
	for _, category := range routing.Categories() {
		if key, ok := mapping[category]; ok {
			result = append(result, mappingPayload{Category: string(category), Strategy: key})
		}
	}
	return result
}

func categoriesFor(mapping strategy.Mapping, key string) []string {
	var out []string
	for _, category := range routing.Categories() {
		if mapping[category] == key {
			out = append(out, string(category))
		}
	}
	return out
}
