package server

import (
	"encoding/json"
	"net/http"
	"path"
	"reflect"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
)

// openRoutes lists the paths served without credentials.
func openRoutes(basePath string, devLogin bool) map[string]bool {
	routes := map[string]bool{
		path.Join("/", basePath, "health"):       true,
		path.Join("/", basePath, "openapi.json"): true,
	}
	if devLogin {
		routes[path.Join("/", basePath, "auth/dev/login")] = true
	}
	return routes
}

var securitySchemes = map[string]*huma.SecurityScheme{
	"bearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
	"apiKeyAuth": {Type: "apiKey", In: "header", Name: "X-Api-Key"},
}

// serveOpenAPI publishes the document once, with the error envelope as
// every operation's default response and security on every closed route.
func serveOpenAPI(r chi.Router, api huma.API, basePath string, open map[string]bool) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join("/", basePath, "openapi.json"), func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			decorateOpenAPI(oas, open)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func decorateOpenAPI(oas *huma.OpenAPI, open map[string]bool) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	security := make([]map[string][]string, 0, len(securitySchemes))
	for _, name := range []string{"bearerAuth", "apiKeyAuth"} {
		oas.Components.SecuritySchemes[name] = securitySchemes[name]
		security = append(security, map[string][]string{name: {}})
	}
	oas.Security = security

	schema := &huma.Schema{Type: huma.TypeObject}
	if oas.Components.Schemas != nil {
		schema = oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	envelope := &huma.Response{
		Description: "Error",
		Content:     map[string]*huma.MediaType{"application/json": {Schema: schema}},
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = envelope
			if open[route] {
				op.Security = []map[string][]string{}
			} else {
				op.Security = security
			}
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	if item == nil {
		return nil
	}
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
}
