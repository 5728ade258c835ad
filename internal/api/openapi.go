package api

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the read-only endpoints.
func buildOpenAPIDoc(withAuth bool) map[string]any {
	get := func(summary string, extra map[string]any) map[string]any {
		op := map[string]any{
			"summary": summary,
			"responses": map[string]any{
				"200": map[string]any{"description": "OK"},
			},
		}
		if withAuth {
			op["security"] = []any{map[string]any{"BearerAuth": []string{}}}
			op["responses"].(map[string]any)["401"] = map[string]any{"description": "Unauthorized"}
		}
		for k, v := range extra {
			op[k] = v
		}
		return map[string]any{"get": op}
	}

	doc := map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "pxshell status API",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/healthz":      map[string]any{"get": map[string]any{"summary": "Liveness and engine counts", "responses": map[string]any{"200": map[string]any{"description": "OK"}}}},
			"/config":       get("Current execution defaults", nil),
			"/engines":      get("Engine status", nil),
			"/results/last": get("Most recent submission", nil),
			"/history": get("Recorded submissions, newest first", map[string]any{
				"parameters": []any{map[string]any{
					"name":   "limit",
					"in":     "query",
					"schema": map[string]any{"type": "integer", "minimum": 1, "maximum": maxHistoryLimit},
				}},
			}),
			"/events": get("Server-sent event stream", map[string]any{
				"parameters": []any{
					map[string]any{
						"name":        "types",
						"in":          "query",
						"description": "Comma-separated event types to include",
						"schema":      map[string]any{"type": "string"},
					},
					map[string]any{
						"name":   "last_event_id",
						"in":     "query",
						"schema": map[string]any{"type": "integer", "minimum": 0},
					},
				},
			}),
		},
	}
	if withAuth {
		doc["components"] = map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		}
	}
	return doc
}
