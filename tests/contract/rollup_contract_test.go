package contract_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/provex-go-api/internal/dto"
	"github.com/noah-isme/provex-go-api/internal/handler"
)

type stubRollupService struct {
	response dto.RollupResponse
}

func (s stubRollupService) Refresh(context.Context) (dto.RollupRefreshResponse, error) {
	return dto.RollupRefreshResponse{Exams: 1, RefreshedAt: s.response.RefreshedAt}, nil
}

func (s stubRollupService) Get(context.Context, uint) (dto.RollupResponse, error) {
	return s.response, nil
}

func TestRollupResponseContract(t *testing.T) {
	schemaPath, err := filepath.Abs(filepath.Join("..", "contracts", "rollup.schema.json"))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)

	now := time.Now().UTC()
	firstAt := now.Add(-2 * time.Hour)
	lastAt := now.Add(-10 * time.Minute)

	svc := stubRollupService{response: dto.RollupResponse{
		ExamID:         12,
		ViolationCount: 7,
		DistinctTypes:  []string{"tab_switch", "window_blur"},
		FirstAt:        &firstAt,
		LastAt:         &lastAt,
		RefreshedAt:    now,
		CacheHit:       true,
	}}

	rollupHandler := handler.NewRollupHandler(svc, zerolog.Nop())

	app := fiber.New()
	group := app.Group("/api/v2/proctor/rollups", func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(1))
		return c.Next()
	})
	rollupHandler.Register(group)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/proctor/rollups/12", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.NoError(t, schema.Validate(payload))
}
