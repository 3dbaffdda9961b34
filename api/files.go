package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hatcher/kbchat/models"
	"github.com/hatcher/kbchat/pkg/httpx"
	"github.com/pkg/errors"
)

// UploadFile sends a local document to the backend for parsing.
func (c *Client) UploadFile(ctx context.Context, path string) (*models.FileDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "open upload file %s", path)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, errors.WithMessagef(err, "read upload file %s", path)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	env, err := c.call(ctx, httpx.NewRequestOption(
		httpx.WithMethodPost(),
		httpx.WithPath("/files/upload"),
		httpx.WithBody(buf.Bytes()),
		httpx.WithContentType(writer.FormDataContentType()),
	))
	if err != nil {
		return nil, err
	}
	return decodeData[models.FileDocument](env)
}

// ListFiles returns one page of the user's documents.
func (c *Client) ListFiles(ctx context.Context, page, perPage int) ([]models.FileDocument, *models.Pagination, error) {
	env, err := c.get(ctx, "/files/list", map[string]string{
		"page":     strconv.Itoa(page),
		"per_page": strconv.Itoa(perPage),
	})
	if err != nil {
		return nil, nil, err
	}
	docs, err := decodeData[[]models.FileDocument](env)
	if err != nil {
		return nil, nil, err
	}
	return *docs, env.Pagination, nil
}

func (c *Client) GetFile(ctx context.Context, id int64) (*models.FileDocument, error) {
	env, err := c.get(ctx, fmt.Sprintf("/files/%d", id), nil)
	if err != nil {
		return nil, err
	}
	return decodeData[models.FileDocument](env)
}

// FileStatus is the parsing progress of one document.
type FileStatus struct {
	ID            int64  `json:"id"`
	Filename      string `json:"filename"`
	ParsingStatus string `json:"parsing_status"`
	ParsingError  string `json:"parsing_error,omitempty"`
	ChunkCount    int64  `json:"chunk_count"`
	ParsedAt      string `json:"parsed_at,omitempty"`
}

func (c *Client) GetFileStatus(ctx context.Context, id int64) (*FileStatus, error) {
	env, err := c.get(ctx, fmt.Sprintf("/files/%d/status", id), nil)
	if err != nil {
		return nil, err
	}
	return decodeData[FileStatus](env)
}

func (c *Client) DeleteFile(ctx context.Context, id int64) error {
	_, err := c.delete(ctx, fmt.Sprintf("/files/%d", id))
	return err
}

// ReparseFile queues a document for a fresh parsing run.
func (c *Client) ReparseFile(ctx context.Context, id int64) error {
	_, err := c.post(ctx, fmt.Sprintf("/files/%d/reparse", id), nil)
	return err
}
