// Package openapi はAPIのOpenAPI 3ドキュメントを提供する。
// ドキュメントはプロセス内で1回だけ構築され、以降は同じ値を返す。
package openapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"gopkg.in/yaml.v3"
)

// APIPrefix はすべてのAPIパスに付くプレフィックス。
const APIPrefix = "/api"

// Document はOpenAPI 3ドキュメントのうち、このサービスで使う部分。
type Document struct {
	OpenAPI    string              `json:"openapi" yaml:"openapi"`
	Info       Info                `json:"info" yaml:"info"`
	Paths      map[string]PathItem `json:"paths" yaml:"paths"`
	Components Components          `json:"components" yaml:"components"`
	Tags       []Tag               `json:"tags" yaml:"tags"`
}

// Info はAPIのタイトルとバージョン。
type Info struct {
	Title   string `json:"title" yaml:"title"`
	Version string `json:"version" yaml:"version"`
}

// Tag はオペレーションをまとめるタグ。
type Tag struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// PathItem はパスごとのオペレーション。
type PathItem struct {
	Get  *Operation `json:"get,omitempty" yaml:"get,omitempty"`
	Post *Operation `json:"post,omitempty" yaml:"post,omitempty"`
}

// Operation は1つのHTTPメソッドに対応するオペレーション。
type Operation struct {
	OperationID string                `json:"operationId" yaml:"operationId"`
	Summary     string                `json:"summary" yaml:"summary"`
	Tags        []string              `json:"tags" yaml:"tags"`
	Parameters  []Parameter           `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBody *RequestBody          `json:"requestBody,omitempty" yaml:"requestBody,omitempty"`
	Responses   map[string]Response   `json:"responses" yaml:"responses"`
	Security    []map[string][]string `json:"security,omitempty" yaml:"security,omitempty"`
}

// Parameter はパス・クエリ・ヘッダーのパラメータ。
type Parameter struct {
	Name     string  `json:"name" yaml:"name"`
	In       string  `json:"in" yaml:"in"`
	Required bool    `json:"required" yaml:"required"`
	Schema   *Schema `json:"schema" yaml:"schema"`
}

// RequestBody はリクエストボディの定義。
type RequestBody struct {
	Required bool                 `json:"required" yaml:"required"`
	Content  map[string]MediaType `json:"content" yaml:"content"`
}

// Response はステータスコードごとのレスポンス定義。
type Response struct {
	Description string               `json:"description" yaml:"description"`
	Content     map[string]MediaType `json:"content,omitempty" yaml:"content,omitempty"`
}

// MediaType はコンテンツタイプごとのスキーマ。
type MediaType struct {
	Schema *Schema `json:"schema" yaml:"schema"`
}

// Schema はJSON Schemaのサブセット。
type Schema struct {
	Ref        string             `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Type       string             `json:"type,omitempty" yaml:"type,omitempty"`
	Format     string             `json:"format,omitempty" yaml:"format,omitempty"`
	Enum       []string           `json:"enum,omitempty" yaml:"enum,omitempty"`
	Nullable   bool               `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Required   []string           `json:"required,omitempty" yaml:"required,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
}

// Components は共有スキーマとセキュリティスキーム。
type Components struct {
	Schemas         map[string]*Schema        `json:"schemas" yaml:"schemas"`
	SecuritySchemes map[string]SecurityScheme `json:"securitySchemes" yaml:"securitySchemes"`
}

// SecurityScheme は認証方式の定義。
type SecurityScheme struct {
	Type         string `json:"type" yaml:"type"`
	Scheme       string `json:"scheme" yaml:"scheme"`
	BearerFormat string `json:"bearerFormat,omitempty" yaml:"bearerFormat,omitempty"`
}

// buildCount は構築回数。テスト用。
var buildCount int

// Get はプロセス全体で共有されるドキュメントを返す。
// 初回呼び出し時に1回だけ構築し、並行する初回呼び出しは同じ構築結果を待つ。
var Get = sync.OnceValue(build)

func build() *Document {
	buildCount++

	str := func() *Schema { return &Schema{Type: "string"} }
	ref := func(name string) *Schema { return &Schema{Ref: "#/components/schemas/" + name} }
	jsonContent := func(s *Schema) map[string]MediaType {
		return map[string]MediaType{"application/json": {Schema: s}}
	}
	errorResponse := func(desc string) Response {
		return Response{Description: desc, Content: jsonContent(ref("Error"))}
	}
	bearer := []map[string][]string{{"bearerAuth": {}}}

	paths := map[string]PathItem{
		"/auth/sign-in/social": {Post: &Operation{
			OperationID: "signInSocial",
			Summary:     "Start a social sign-in flow",
			RequestBody: &RequestBody{Required: true, Content: jsonContent(ref("SocialSignInRequest"))},
			Responses: map[string]Response{
				"200": {Description: "Authorization URL", Content: jsonContent(ref("SocialSignInResponse"))},
				"400": errorResponse("INVALID_PROVIDER, INVALID_CALLBACK_URL or INVALID_REQUEST"),
				"429": errorResponse("RATE_LIMITED"),
			},
		}},
		"/auth/callback/{provider}": {Get: &Operation{
			OperationID: "oauthCallback",
			Summary:     "OAuth provider callback",
			Parameters: []Parameter{
				{Name: "provider", In: "path", Required: true, Schema: &Schema{Type: "string", Enum: []string{"github", "google"}}},
				{Name: "code", In: "query", Required: true, Schema: str()},
				{Name: "state", In: "query", Required: true, Schema: str()},
			},
			Responses: map[string]Response{
				"302": {Description: "Session cookie set, redirect to callbackURL"},
				"400": errorResponse("INVALID_STATE"),
				"422": errorResponse("NO_EMAIL"),
				"502": errorResponse("TOKEN_EXCHANGE_FAILED"),
			},
		}},
		"/auth/get-session": {Get: &Operation{
			OperationID: "getSession",
			Summary:     "Resolve the current session",
			Security:    bearer,
			Responses: map[string]Response{
				"200": {Description: "Session and user, or null", Content: jsonContent(&Schema{Ref: "#/components/schemas/SessionWithUser", Nullable: true})},
				"401": errorResponse("UNAUTHORIZED"),
			},
		}},
		"/auth/sign-out": {Post: &Operation{
			OperationID: "signOut",
			Summary:     "Delete the current session",
			Security:    bearer,
			Responses: map[string]Response{
				"200": {Description: "Signed out"},
				"401": errorResponse("UNAUTHORIZED"),
			},
		}},
		"/users/me": {Get: &Operation{
			OperationID: "getMe",
			Summary:     "Current user profile",
			Security:    bearer,
			Responses: map[string]Response{
				"200": {Description: "User", Content: jsonContent(ref("User"))},
				"401": errorResponse("UNAUTHORIZED"),
				"404": errorResponse("USER_NOT_FOUND"),
			},
		}},
		"/users/me/sessions": {Get: &Operation{
			OperationID: "listMySessions",
			Summary:     "Active sessions of the current user",
			Security:    bearer,
			Responses: map[string]Response{
				"200": {Description: "Sessions", Content: jsonContent(&Schema{
					Type:       "object",
					Properties: map[string]*Schema{"sessions": {Type: "array", Items: ref("SessionSummary")}},
				})},
				"401": errorResponse("UNAUTHORIZED"),
			},
		}},
	}

	// すべてのパスを/api配下に登録し、Authタグを付ける
	prefixed := make(map[string]PathItem, len(paths))
	for path, item := range paths {
		for _, op := range []*Operation{item.Get, item.Post} {
			if op != nil {
				op.Tags = []string{"Auth"}
			}
		}
		prefixed[APIPrefix+path] = item
	}

	dateTime := func() *Schema { return &Schema{Type: "string", Format: "date-time"} }

	return &Document{
		OpenAPI: "3.0.3",
		Info:    Info{Title: "socialauth API", Version: "1.0.0"},
		Paths:   prefixed,
		Tags:    []Tag{{Name: "Auth", Description: "Social sign-in and sessions"}},
		Components: Components{
			Schemas: map[string]*Schema{
				"SocialSignInRequest": {
					Type:     "object",
					Required: []string{"provider", "callbackURL"},
					Properties: map[string]*Schema{
						"provider":    {Type: "string", Enum: []string{"github", "google"}},
						"callbackURL": str(),
					},
				},
				"SocialSignInResponse": {
					Type:       "object",
					Properties: map[string]*Schema{"url": str(), "redirect": {Type: "boolean"}},
				},
				"SessionWithUser": {
					Type: "object",
					Properties: map[string]*Schema{
						"session": {Type: "object", Properties: map[string]*Schema{"id": str(), "token": str(), "expiresAt": dateTime()}},
						"user": {Type: "object", Properties: map[string]*Schema{
							"id": str(), "email": str(), "name": str(), "image": {Type: "string", Nullable: true},
						}},
					},
				},
				"User": {
					Type: "object",
					Properties: map[string]*Schema{
						"id": str(), "email": str(), "name": str(), "emailVerified": {Type: "boolean"},
						"image": {Type: "string", Nullable: true}, "createdAt": dateTime(), "updatedAt": dateTime(),
					},
				},
				"SessionSummary": {
					Type: "object",
					Properties: map[string]*Schema{
						"id": str(), "expiresAt": dateTime(), "createdAt": dateTime(), "current": {Type: "boolean"},
					},
				},
				"Error": {
					Type: "object",
					Properties: map[string]*Schema{
						"code": str(), "message": str(), "category": str(), "action": str(),
					},
				},
			},
			SecuritySchemes: map[string]SecurityScheme{
				"bearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
			},
		},
	}
}

// JSONHandler はドキュメントをJSONで返す。
func JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(Get()); err != nil {
			slog.Error("failed to encode openapi document", slog.String("error", err.Error()))
		}
	}
}

// YAMLHandler はドキュメントをYAMLで返す。
func YAMLHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(Get()); err != nil {
			slog.Error("failed to encode openapi document", slog.String("error", err.Error()))
		}
		enc.Close()
	}
}
