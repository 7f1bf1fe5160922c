package server

// OpenAPI returns a static OpenAPI 3.0 document describing the routes in
// spec §6.1, for the --print-openapi startup flag.
func OpenAPI() map[string]interface{} {
	jsonSchema := map[string]interface{}{"type": "object", "additionalProperties": true}
	successEnvelope := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"success": map[string]interface{}{"type": "boolean"},
			"message": map[string]interface{}{"type": "string"},
		},
	}
	acceptedEnvelope := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation_id": map[string]interface{}{"type": "string"},
			"status":       map[string]interface{}{"type": "string"},
		},
	}

	op := func(summary, tag string, params []map[string]interface{}, requestSchema, responseSchema map[string]interface{}) map[string]interface{} {
		entry := map[string]interface{}{
			"summary": summary,
			"tags":    []string{tag},
			"responses": map[string]interface{}{
				"200": map[string]interface{}{
					"description": "success",
					"content": map[string]interface{}{
						"application/json": map[string]interface{}{"schema": responseSchema},
					},
				},
			},
		}
		if params != nil {
			entry["parameters"] = params
		}
		if requestSchema != nil {
			entry["requestBody"] = map[string]interface{}{
				"required": true,
				"content": map[string]interface{}{
					"application/json": map[string]interface{}{"schema": requestSchema},
				},
			}
		}
		return entry
	}

	waitParam := []map[string]interface{}{{
		"name": "wait", "in": "query", "required": false,
		"schema": map[string]interface{}{"type": "integer"},
	}}
	itemBody := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"item": jsonSchema},
		"required":   []string{"item"},
	}
	returnBody := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"item":         jsonSchema,
			"borrow_token": map[string]interface{}{"type": "string"},
		},
		"required": []string{"item", "borrow_token"},
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   "poolbroker",
			"version": "1.0.0",
		},
		"paths": map[string]interface{}{
			"/borrow": map[string]interface{}{
				"get": op("Borrow an item", "Pool", waitParam, nil, map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"item":         jsonSchema,
						"borrow_token": map[string]interface{}{"type": "string"},
					},
				}),
			},
			"/return": map[string]interface{}{
				"post": op("Return a borrowed item", "Pool", nil, returnBody, acceptedEnvelope),
			},
			"/submit": map[string]interface{}{
				"post": op("Submit a new item", "Pool", nil, itemBody, acceptedEnvelope),
			},
			"/operations/{id}": map[string]interface{}{
				"get": op("Poll operation status", "Operations", []map[string]interface{}{{
					"name": "id", "in": "path", "required": true,
					"schema": map[string]interface{}{"type": "string"},
				}}, nil, map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"operation_id": map[string]interface{}{"type": "string"},
						"status":       map[string]interface{}{"type": "string"},
						"message":      map[string]interface{}{"type": "string"},
					},
				}),
			},
			"/operations/{id}/events": map[string]interface{}{
				"get": op("Stream operation events", "Operations", []map[string]interface{}{{
					"name": "id", "in": "path", "required": true,
					"schema": map[string]interface{}{"type": "string"},
				}}, nil, map[string]interface{}{"type": "string"}),
			},
			"/admin/items": map[string]interface{}{
				"get": op("List pool items", "Admin", nil, nil, map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"items": map[string]interface{}{"type": "array", "items": jsonSchema},
						"count": map[string]interface{}{"type": "integer"},
					},
				}),
				"delete": op("Delete a pool item", "Admin", nil, itemBody, successEnvelope),
			},
			"/admin/borrowed": map[string]interface{}{
				"get":    op("List borrowed items", "Admin", nil, nil, map[string]interface{}{"type": "object"}),
				"delete": op("Delete a borrowed-item ledger entry", "Admin", nil, itemBody, successEnvelope),
			},
			"/admin/force-return": map[string]interface{}{
				"post": op("Force an item back into the pool", "Admin", nil, itemBody, successEnvelope),
			},
			"/admin/operations": map[string]interface{}{
				"get": op("List all operations", "Admin", nil, nil, map[string]interface{}{"type": "object"}),
			},
			"/admin/operations/{id}": map[string]interface{}{
				"delete": op("Delete an operation", "Admin", []map[string]interface{}{{
					"name": "id", "in": "path", "required": true,
					"schema": map[string]interface{}{"type": "string"},
				}}, nil, successEnvelope),
			},
			"/admin/stats": map[string]interface{}{
				"get": op("Pool and operation counters", "Admin", nil, nil, map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"free_count":         map[string]interface{}{"type": "integer"},
						"borrowed_count":     map[string]interface{}{"type": "integer"},
						"pending_operations": map[string]interface{}{"type": "integer"},
						"failed_operations":  map[string]interface{}{"type": "integer"},
					},
				}),
			},
		},
	}
}
