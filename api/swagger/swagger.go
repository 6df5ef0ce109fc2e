package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Squad API",
        "description": "Competitive squad lifecycle service: squads, memberships, phases, eligibility and tier movement.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Squads", "description": "Squad lifecycle and rosters"},
        {"name": "Memberships", "description": "Membership state machine"},
        {"name": "JoinRequests", "description": "Two-phase join workflow"},
        {"name": "RoleRequests", "description": "Leadership role workflow"},
        {"name": "TierChangeRequests", "description": "Manual tier change workflow"},
        {"name": "Phases", "description": "Competition phase management"},
        {"name": "Eligibility", "description": "Per-phase eligibility snapshots"},
        {"name": "TierChanges", "description": "End-of-phase tier movement"},
        {"name": "Points", "description": "Point ledger"},
        {"name": "Policy", "description": "Operational policy"}
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
        "/squads": {
            "get": {
                "tags": ["Squads"],
                "summary": "List squads",
                "parameters": [
                    {"name": "tier", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Squads"],
                "summary": "Register a new squad",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateSquadRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/squads/{id}": {
            "get": {
                "tags": ["Squads"],
                "summary": "Get a squad with its roster",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/squads/{id}/members": {
            "get": {
                "tags": ["Memberships"],
                "summary": "List the members of a squad",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "includeLeft", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/squads/{id}/freeze": {
            "post": {
                "tags": ["Squads"],
                "summary": "Freeze a squad",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/squads/{id}/unfreeze": {
            "post": {
                "tags": ["Squads"],
                "summary": "Unfreeze a squad",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/memberships": {
            "post": {
                "tags": ["Memberships"],
                "summary": "Attach a student to a squad directly",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/JoinSquadRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/memberships/{id}/leave": {
            "post": {
                "tags": ["Memberships"],
                "summary": "Leave a squad voluntarily",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/memberships/{id}/remove": {
            "post": {
                "tags": ["Memberships"],
                "summary": "Remove a member administratively",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RemoveMemberRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/memberships/{id}/role": {
            "put": {
                "tags": ["Memberships"],
                "summary": "Change a member's role",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateRoleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/join-requests": {
            "get": {
                "tags": ["JoinRequests"],
                "summary": "List join requests",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["JoinRequests"],
                "summary": "File a join request",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/join-requests/{id}/decision": {
            "post": {
                "tags": ["JoinRequests"],
                "summary": "Approve or reject a join request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DecideRequestPayload"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/role-requests": {
            "get": {
                "tags": ["RoleRequests"],
                "summary": "List role requests",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["RoleRequests"],
                "summary": "File a leadership role request",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/role-requests/{id}/decision": {
            "post": {
                "tags": ["RoleRequests"],
                "summary": "Approve or reject a role request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DecideRequestPayload"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/tier-change-requests": {
            "get": {
                "tags": ["TierChangeRequests"],
                "summary": "List tier change requests",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["TierChangeRequests"],
                "summary": "File a tier change request",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/tier-change-requests/{id}/decision": {
            "post": {
                "tags": ["TierChangeRequests"],
                "summary": "Approve or reject a tier change request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DecideRequestPayload"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/phases": {
            "get": {
                "tags": ["Phases"],
                "summary": "List phases",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Phases"],
                "summary": "Open a new competition phase",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/phases/current": {
            "get": {
                "tags": ["Phases"],
                "summary": "Get the active phase",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No active phase"}
                }
            }
        },
        "/phases/{id}": {
            "get": {
                "tags": ["Phases"],
                "summary": "Get a phase with its tier targets",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/phases/{id}/targets": {
            "put": {
                "tags": ["Phases"],
                "summary": "Update the tier targets of a phase",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/phases/{id}/evaluate": {
            "post": {
                "tags": ["Eligibility"],
                "summary": "Recompute eligibility snapshots for a phase",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/phases/{id}/eligibility/individuals": {
            "get": {
                "tags": ["Eligibility"],
                "summary": "List individual eligibility snapshots",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/phases/{id}/eligibility/squads": {
            "get": {
                "tags": ["Eligibility"],
                "summary": "List squad eligibility snapshots",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/phases/{id}/tier-changes": {
            "get": {
                "tags": ["TierChanges"],
                "summary": "List applied tier changes for a phase",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["TierChanges"],
                "summary": "Apply tier movements for every squad",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/points": {
            "post": {
                "tags": ["Points"],
                "summary": "Award points to a student",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/points": {
            "get": {
                "tags": ["Points"],
                "summary": "List a student's point ledger",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/policy": {
            "get": {
                "tags": ["Policy"],
                "summary": "Get the current operational policy",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Policy"],
                "summary": "Update operational policy values",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateSquadRequest": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "name": {"type": "string"},
                "tier": {"type": "string", "enum": ["D", "C", "B", "A"]}
            },
            "required": ["code", "name", "tier"]
        },
        "JoinSquadRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "squad_id": {"type": "string"}
            },
            "required": ["student_id", "squad_id"]
        },
        "UpdateRoleRequest": {
            "type": "object",
            "properties": {
                "role": {"type": "string", "enum": ["MEMBER", "CAPTAIN", "VICE_CAPTAIN", "STRATEGIST", "MANAGER"]}
            },
            "required": ["role"]
        },
        "RemoveMemberRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"}
            },
            "required": ["reason"]
        },
        "DecideRequestPayload": {
            "type": "object",
            "properties": {
                "approve": {"type": "boolean"},
                "reason": {"type": "string"}
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
