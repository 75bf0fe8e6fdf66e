// Package docs registers the status API's OpenAPI document with swag.
// Regenerate with `swag init -g cmd/andyhost/docs.go`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "andyhost maintainers"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/status": {
            "get": {
                "description": "Membership state, identity, load and enabled models.",
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Host status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        },
        "/models": {
            "get": {
                "description": "Every model discovered in the backend, with its enabled flag.",
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "List models",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}
                }
            }
        },
        "/models/refresh": {
            "post": {
                "description": "Drops the cached model list and queries the backend again.",
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Refresh models",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.RefreshResponse"}}
                }
            }
        },
        "/models/toggle": {
            "post": {
                "description": "Offers or withdraws a model from the pool.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Toggle a model",
                "parameters": [
                    {"description": "Model to toggle", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.ModelRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ToggleResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/models/update": {
            "post": {
                "description": "Overrides capabilities, concurrency or context length of a discovered model. Omitted fields are unchanged.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Override model settings",
                "parameters": [
                    {"description": "Overrides", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.ModelUpdate"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelDescriptor"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/history": {
            "get": {
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Recent requests",
                "parameters": [
                    {"type": "integer", "description": "Maximum entries (default 50, max 500)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HistoryResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/connect": {
            "post": {
                "description": "Resumes registration and joins the pool if not already a member.",
                "produces": ["application/json"],
                "tags": ["pool"],
                "summary": "Connect to the pool",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ConnectionResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/disconnect": {
            "post": {
                "description": "Leaves the pool and stops rejoining until the next connect.",
                "produces": ["application/json"],
                "tags": ["pool"],
                "summary": "Disconnect from the pool",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ConnectionResponse"}}
                }
            }
        },
        "/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Request statistics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatsResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ConnectionResponse": {
            "type": "object",
            "properties": {
                "connected": {"type": "boolean"},
                "host_id": {"type": "string"},
                "paused": {"type": "boolean"},
                "state": {"type": "string", "example": "registered"}
            }
        },
        "types.HistoryEntry": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "id": {"type": "string"},
                "model": {"type": "string"},
                "request_type": {"type": "string", "example": "chat"},
                "response_time_seconds": {"type": "number"},
                "success": {"type": "boolean"},
                "timestamp_unix": {"type": "integer"},
                "tokens": {"type": "integer"},
                "work_id": {"type": "string"}
            }
        },
        "types.HistoryResponse": {
            "type": "object",
            "properties": {
                "entries": {"type": "array", "items": {"$ref": "#/definitions/types.HistoryEntry"}}
            }
        },
        "types.ModelRequest": {
            "type": "object",
            "properties": {
                "model_name": {"type": "string", "example": "hf.co/org/model:Q4_K_M"}
            }
        },
        "types.ModelUpdate": {
            "type": "object",
            "properties": {
                "context_length": {"type": "integer", "example": 8192},
                "enabled": {"type": "boolean"},
                "max_concurrent": {"type": "integer", "example": 4},
                "model_name": {"type": "string", "example": "llama3:8b"},
                "supports_audio": {"type": "boolean"},
                "supports_embedding": {"type": "boolean"},
                "supports_vision": {"type": "boolean"}
            }
        },
        "types.RefreshResponse": {
            "type": "object",
            "properties": {
                "count": {"type": "integer", "example": 3},
                "models": {"type": "array", "items": {"$ref": "#/definitions/types.ModelDescriptor"}}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 404},
                "error": {"type": "string", "example": "model not found"}
            }
        },
        "types.ModelDescriptor": {
            "type": "object",
            "properties": {
                "context_length": {"type": "integer", "example": 4096},
                "enabled": {"type": "boolean"},
                "family": {"type": "string"},
                "max_concurrent": {"type": "integer", "example": 2},
                "name": {"type": "string", "example": "llama3:8b"},
                "quantization": {"type": "string", "example": "Q4_K_M"},
                "size": {"type": "integer"},
                "supports_audio": {"type": "boolean"},
                "supports_embedding": {"type": "boolean"},
                "supports_vision": {"type": "boolean"}
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {
                "models": {"type": "array", "items": {"$ref": "#/definitions/types.ModelDescriptor"}}
            }
        },
        "types.StatsResponse": {
            "type": "object",
            "properties": {
                "avg_response_seconds": {"type": "number"},
                "failed_requests": {"type": "integer"},
                "last_request_unix": {"type": "integer"},
                "successful_requests": {"type": "integer"},
                "total_requests": {"type": "integer"},
                "total_tokens": {"type": "integer"}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "backend_url": {"type": "string"},
                "enabled_models": {"type": "array", "items": {"type": "string"}},
                "host_id": {"type": "string", "example": "host_3f2a"},
                "inflight": {"type": "integer", "example": 1},
                "last_heartbeat_unix": {"type": "integer"},
                "pool_size": {"type": "integer"},
                "paused": {"type": "boolean"},
                "pool_url": {"type": "string"},
                "state": {"type": "string", "example": "registered"},
                "state_since_unix": {"type": "integer"},
                "uptime_seconds": {"type": "integer"}
            }
        },
        "types.ToggleResponse": {
            "type": "object",
            "properties": {
                "enabled": {"type": "boolean"},
                "name": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "andyhost status API",
	Description:      "Local status API of an Andy pool host: membership, models and request statistics.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
