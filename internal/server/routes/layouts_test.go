package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
)

func TestEncodeLayoutsMarksActive(t *testing.T) {
	encoded := encodeLayouts([]string{"artifactory", "flatcontainer", "missing"}, "flatcontainer", "nupkg")
	if len(encoded) != 2 {
		t.Fatalf("expected 2 layouts, got %d", len(encoded))
	}
	if encoded[0].Active || !encoded[1].Active {
		t.Fatalf("expected flatcontainer to be active: %+v", encoded)
	}
	if encoded[1].Example != "newtonsoft.json/13.0.1/newtonsoft.json.13.0.1.nupkg" {
		t.Fatalf("unexpected example path %s", encoded[1].Example)
	}
}

func TestLayoutDetailRoute(t *testing.T) {
	app := fiber.New()
	RegisterLayoutRoutes(app, "artifactory", "nupkg")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/-/layouts/Artifactory", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload layoutPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Key != "artifactory" || !payload.Active {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Example != "Newtonsoft.Json/13.0.1/Newtonsoft.Json.13.0.1.nupkg" {
		t.Fatalf("unexpected example %s", payload.Example)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/-/layouts/maven", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
