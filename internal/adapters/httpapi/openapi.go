package httpapi

import (
	"net/http"

	"github.com/Guilhem-Bonnet/streamhub/internal/buildinfo"
	"github.com/Guilhem-Bonnet/streamhub/internal/httpjson"
)

// handleOpenAPI renvoie une description OpenAPI des routes /api.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, openAPIDocument())
}

func openAPIDocument() map[string]any {
	ref := func(name string) map[string]any {
		return map[string]any{"$ref": "#/components/schemas/" + name}
	}
	jsonOK := func(schema string) map[string]any {
		return map[string]any{
			"description": "OK",
			"content":     map[string]any{"application/json": map[string]any{"schema": ref(schema)}},
		}
	}
	jsonErr := map[string]any{
		"description": "Error",
		"content":     map[string]any{"application/json": map[string]any{"schema": ref("Error")}},
	}
	body := func(schema string) map[string]any {
		return map[string]any{
			"required": true,
			"content":  map[string]any{"application/json": map[string]any{"schema": ref(schema)}},
		}
	}
	op := func(okStatus, schema string, errs ...string) map[string]any {
		resp := map[string]any{okStatus: jsonOK(schema)}
		if schema == "" {
			resp[okStatus] = map[string]any{"description": "OK"}
		}
		for _, e := range errs {
			resp[e] = jsonErr
		}
		return map[string]any{"responses": resp}
	}
	withBody := func(o map[string]any, schema string) map[string]any {
		o["requestBody"] = body(schema)
		return o
	}
	object := map[string]any{"type": "object", "additionalProperties": true}

	schemas := map[string]any{
		"Error": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"error": map[string]any{"type": "string"},
				"code":  map[string]any{"type": "string"},
			},
			"required": []any{"error"},
		},
		"Object": object,
		"Settings": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"maxProviderFetches": map[string]any{"type": "integer", "minimum": 1},
				"animeSamaEnabled":   map[string]any{"type": "boolean"},
			},
			"additionalProperties": false,
		},
		"LinkRecord": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":      map[string]any{"type": "string"},
				"name":    map[string]any{"type": "string"},
				"url":     map[string]any{"type": "string"},
				"type":    map[string]any{"type": "string", "enum": []any{"m3u8", "mp4"}},
				"server":  map[string]any{"type": "string"},
				"quality": map[string]any{"type": "string"},
				"headers": map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
				"referer": map[string]any{"type": "string"},
			},
			"required": []any{"id", "url", "type", "server"},
		},
		"Provider": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":        map[string]any{"type": "string"},
				"kind":        map[string]any{"type": "string"},
				"recommended": map[string]any{"type": "boolean"},
				"flag":        map[string]any{"type": "string"},
				"working":     map[string]any{"type": "boolean"},
				"supports":    map[string]any{"type": "array", "items": map[string]any{"type": "string", "enum": []any{"movie", "tv", "anime"}}},
			},
			"required": []any{"name", "kind", "working", "supports"},
		},
		"ServerResult": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"success":  map[string]any{"type": "boolean"},
				"server":   map[string]any{"type": "string"},
				"links":    map[string]any{"type": "array", "items": ref("LinkRecord")},
				"captions": map[string]any{"type": "array", "items": object},
			},
			"required": []any{"success", "server", "links"},
		},
		"OpenSessionRequest": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":      map[string]any{"type": "string"},
						"type":    map[string]any{"type": "string", "enum": []any{"movie", "tv", "anime"}},
						"title":   map[string]any{"type": "string"},
						"season":  map[string]any{"type": "integer"},
						"episode": map[string]any{"type": "integer"},
					},
					"required": []any{"id", "type"},
				},
				"posterPath": map[string]any{"type": "string"},
				"genres":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"rating":     map[string]any{"type": "number"},
				"wait":       map[string]any{"type": "boolean"},
			},
			"required": []any{"content"},
		},
		"SelectRequest": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"kind":     map[string]any{"type": "string", "enum": []any{"external", "aggregated"}},
				"provider": map[string]any{"type": "string"},
				"linkId":   map[string]any{"type": "string"},
			},
			"required": []any{"kind"},
		},
		"ChangeEpisodeRequest": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"season":  map[string]any{"type": "integer", "minimum": 1},
				"episode": map[string]any{"type": "integer", "minimum": 1},
				"wait":    map[string]any{"type": "boolean"},
			},
			"required": []any{"season", "episode"},
		},
		"Session":   object,
		"Providers": object,
	}

	paths := map[string]any{
		"/api/health":       map[string]any{"get": op("200", "")},
		"/api/version":      map[string]any{"get": op("200", "Object")},
		"/api/openapi.json": map[string]any{"get": op("200", "Object")},
		"/api/events":       map[string]any{"get": map[string]any{"responses": map[string]any{"200": map[string]any{"description": "SSE"}}}},
		"/api/ws":           map[string]any{"get": map[string]any{"responses": map[string]any{"101": map[string]any{"description": "websocket"}}}},
		"/api/proxy": map[string]any{"get": map[string]any{"responses": map[string]any{
			"200": map[string]any{"description": "upstream body (playlists rewritten)"},
			"400": jsonErr, "429": jsonErr, "502": jsonErr,
		}}},
		"/api/providers":              map[string]any{"get": op("200", "Providers")},
		"/api/download/init":          map[string]any{"get": op("200", "Object", "502", "504")},
		"/api/download/server":        map[string]any{"get": op("200", "ServerResult", "400")},
		"/api/tmdb/{path}":            map[string]any{"get": op("200", "Object", "502", "503")},
		"/api/anilist/{op}":           map[string]any{"get": op("200", "Object", "400", "404", "502")},
		"/api/anilist/{op}/{id}":      map[string]any{"get": op("200", "Object", "400", "404", "502")},
		"/api/anime/players":          map[string]any{"get": op("200", "Object", "400", "404", "502")},
		"/api/anime/resolve":          map[string]any{"post": withBody(op("200", "Object", "400"), "Object")},
		"/api/sessions":               map[string]any{"post": withBody(op("201", "Session", "400", "409", "502"), "OpenSessionRequest")},
		"/api/sessions/{id}":          map[string]any{"get": op("200", "Session", "404"), "delete": op("204", "", "404")},
		"/api/sessions/{id}/wait":     map[string]any{"get": op("200", "Session", "404", "504")},
		"/api/sessions/{id}/select":   map[string]any{"post": withBody(op("200", "Session", "400", "404", "409"), "SelectRequest")},
		"/api/sessions/{id}/episode":  map[string]any{"post": withBody(op("200", "Session", "400", "404", "409"), "ChangeEpisodeRequest")},
		"/api/state/client":           map[string]any{"post": op("201", "Object")},
		"/api/state/preferences/{c}":  map[string]any{"get": op("200", "Object", "400", "404"), "put": withBody(op("200", "Object", "400"), "Object")},
		"/api/state/episodes/{t}/{i}": map[string]any{"get": op("200", "Object", "400", "404"), "put": withBody(op("200", "Object", "400"), "Object")},
		"/api/state/history":          map[string]any{"get": op("200", "Object"), "post": withBody(op("200", "Object", "400"), "Object"), "delete": op("204", "")},
		"/api/state/history/{t}/{i}":  map[string]any{"delete": op("200", "Object", "400")},
		"/api/state/watchlist":        map[string]any{"get": op("200", "Object")},
		"/api/state/watchlist/{id}":   map[string]any{"get": op("200", "Object"), "put": withBody(op("200", "Object", "400"), "Object"), "delete": op("204", "", "404")},
		"/api/state/dev-popup":        map[string]any{"get": op("200", "Object"), "post": op("200", "Object")},
		"/api/settings": map[string]any{
			"get": op("200", "Settings", "500"),
			"put": withBody(op("200", "Settings", "400", "500"), "Settings"),
		},
	}

	return map[string]any{
		"openapi":    "3.0.3",
		"info":       map[string]any{"title": "streamhub API", "version": buildinfo.Version},
		"components": map[string]any{"schemas": schemas},
		"paths":      paths,
	}
}
