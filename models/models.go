// Package models holds the wire types exchanged with the knowledge-base backend.
package models

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
}

type Role string

const (
	RoleUser   Role = "user"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

type Session struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	MessageCount int64  `json:"message_count,omitempty"`
	Preview      string `json:"preview,omitempty"`
	CreatedAt    string `json:"created_at"`
	LastActiveAt string `json:"last_active_at"`
}

type Message struct {
	ID              int64  `json:"id"`
	SessionID       int64  `json:"session_id"`
	Role            Role   `json:"role"`
	Content         string `json:"content"`
	IsDeepThought   bool   `json:"is_deep_thought"`
	ThinkingContent string `json:"thinking_content,omitempty"`
	TokensUsed      int64  `json:"tokens_used"`
	CreatedAt       string `json:"created_at"`
}

type FileDocument struct {
	ID            int64  `json:"id"`
	Filename      string `json:"filename"`
	FileType      string `json:"file_type"`
	FileSize      int64  `json:"file_size"`
	ParsingStatus string `json:"parsing_status"`
	ChunkCount    int64  `json:"chunk_count"`
	UploadTime    string `json:"upload_time"`
	ParsedAt      string `json:"parsed_at,omitempty"`
}

type APIKey struct {
	ID           int64  `json:"id"`
	Provider     string `json:"provider"`
	APIKeyMasked string `json:"api_key_masked"`
	IsActive     bool   `json:"is_active"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Pagination struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}
