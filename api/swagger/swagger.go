package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Notify API",
        "description": "Guardian notification consent and delivery service",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Authentication"},
        {"name": "Guardians", "description": "Guardian records and student links"},
        {"name": "Consents", "description": "Consent capture and withdrawal"},
        {"name": "Preferences", "description": "Notification preferences and opt-outs"},
        {"name": "Notifications", "description": "Admission checks and delivery"},
        {"name": "Tasks", "description": "Follow-up tasks"},
        {"name": "Exports", "description": "Consent register exports"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/api/v1/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Login",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/api/v1/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Refresh access token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/auth/logout": {
            "post": {
                "tags": ["Auth"],
                "summary": "Logout",
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/api/v1/auth/me": {
            "get": {
                "tags": ["Auth"],
                "summary": "Current user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/guardians": {
            "post": {
                "tags": ["Guardians"],
                "summary": "Create guardian",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateGuardianRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/guardians/{id}": {
            "get": {
                "tags": ["Guardians"],
                "summary": "Get guardian",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/api/v1/guardians/link": {
            "post": {
                "tags": ["Guardians"],
                "summary": "Link guardian to student",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LinkGuardianRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Link limit reached"}
                }
            }
        },
        "/api/v1/students/{studentId}/guardians": {
            "get": {
                "tags": ["Guardians"],
                "summary": "List guardians for student",
                "parameters": [
                    {"name": "studentId", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/consents": {
            "post": {
                "tags": ["Consents"],
                "summary": "Record consent",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RecordConsentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/consents/withdraw": {
            "post": {
                "tags": ["Consents"],
                "summary": "Withdraw consent",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/WithdrawConsentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Category is mandatory"}
                }
            }
        },
        "/api/v1/consents/sync": {
            "post": {
                "tags": ["Consents"],
                "summary": "Sync offline consent records",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SyncConsentsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/students/{studentId}/consents": {
            "get": {
                "tags": ["Consents"],
                "summary": "Consent register for student",
                "parameters": [
                    {"name": "studentId", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/guardians/{id}/preferences": {
            "get": {
                "tags": ["Preferences"],
                "summary": "Get notification preferences",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Preferences"],
                "summary": "Update notification preferences",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdatePreferencesRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/guardians/{id}/preferences/history": {
            "get": {
                "tags": ["Preferences"],
                "summary": "Preference change history",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/opt-outs": {
            "post": {
                "tags": ["Preferences"],
                "summary": "Record opt-out",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RecordOptOutRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Emergency notifications cannot be disabled"}
                }
            }
        },
        "/api/v1/guardians/{id}/opt-outs": {
            "get": {
                "tags": ["Preferences"],
                "summary": "Active opt-outs for guardian",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "studentId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/notifications/admit": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Preview admission decisions",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SendNotificationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/notifications": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Submit notification for delivery",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SendNotificationRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/deliveries/{id}": {
            "get": {
                "tags": ["Notifications"],
                "summary": "Delivery status",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/api/v1/deliveries/{id}/cancel": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Cancel pending delivery",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Delivery already terminal"}
                }
            }
        },
        "/api/v1/deliveries/{id}/confirm": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Confirm delivery receipt",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/deliveries/{id}/resend": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Manually resend an exhausted delivery",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/deliveries/connectivity": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Set connectivity state",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetConnectivityRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/api/v1/tasks": {
            "get": {
                "tags": ["Tasks"],
                "summary": "List open follow-up tasks",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/tasks/{id}/complete": {
            "post": {
                "tags": ["Tasks"],
                "summary": "Complete follow-up task",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/exports/consent-register": {
            "post": {
                "tags": ["Exports"],
                "summary": "Enqueue consent register export",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/exports/{id}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Export job status",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/exports/download": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download export by signed token",
                "parameters": [
                    {"name": "token", "in": "query", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "401": {"description": "Invalid or expired token"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "CreateGuardianRequest": {
            "type": "object",
            "properties": {
                "full_name": {"type": "string"},
                "whatsapp": {"type": "string"},
                "phone": {"type": "string"},
                "email": {"type": "string"},
                "preferred_language": {"type": "string"}
            }
        },
        "LinkGuardianRequest": {
            "type": "object",
            "properties": {
                "guardian_id": {"type": "string"},
                "student_id": {"type": "string"},
                "relationship": {"type": "string"},
                "is_primary": {"type": "boolean"}
            }
        },
        "RecordConsentRequest": {
            "type": "object",
            "properties": {
                "guardian_id": {"type": "string"},
                "student_id": {"type": "string"},
                "category": {"type": "string"},
                "status": {"type": "string"},
                "source": {"type": "string"},
                "expires_at": {"type": "string"}
            }
        },
        "WithdrawConsentRequest": {
            "type": "object",
            "properties": {
                "guardian_id": {"type": "string"},
                "student_id": {"type": "string"},
                "category": {"type": "string"},
                "reason": {"type": "string"}
            }
        },
        "SyncConsentsRequest": {
            "type": "object",
            "properties": {
                "records": {"type": "array", "items": {"$ref": "#/definitions/RecordConsentRequest"}}
            }
        },
        "UpdatePreferencesRequest": {
            "type": "object",
            "properties": {
                "channel_order": {"type": "array", "items": {"type": "string"}},
                "language": {"type": "string"},
                "quiet_hours_start": {"type": "string"},
                "quiet_hours_end": {"type": "string"}
            }
        },
        "RecordOptOutRequest": {
            "type": "object",
            "properties": {
                "guardian_id": {"type": "string"},
                "student_id": {"type": "string"},
                "scope": {"type": "string"},
                "category": {"type": "string"},
                "expires_at": {"type": "string"}
            }
        },
        "SendNotificationRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "category": {"type": "string"},
                "priority": {"type": "string"},
                "template": {"type": "string"},
                "params": {"type": "object"}
            }
        },
        "SetConnectivityRequest": {
            "type": "object",
            "properties": {
                "online": {"type": "boolean"}
            }
        },
        "ExportRequest": {
            "type": "object",
            "properties": {
                "student_ids": {"type": "array", "items": {"type": "string"}},
                "format": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
