package validator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

// DefinitionValidator checks queued definition files before the pipeline
// spends a batch submission on them.
type DefinitionValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

// ValidatorConfig holds the validation limits.
type ValidatorConfig struct {
	MaxFileSize int64               // bytes
	MinFileSize int64               // bytes
	Allowed     map[string][]string // extension -> accepted MIME prefixes
}

// DefaultConfig accepts markdown, text and YAML definitions up to 1MB.
func DefaultConfig() *ValidatorConfig {
	text := []string{"text/"}
	return &ValidatorConfig{
		MaxFileSize: 1 << 20,
		MinFileSize: 1,
		Allowed: map[string][]string{
			".md":       text,
			".markdown": text,
			".txt":      text,
			".yaml":     text,
			".yml":      text,
		},
	}
}

type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
}

// Summary joins the error messages into one line.
func (r *ValidationResult) Summary() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Code+": "+e.Message)
	}
	return strings.Join(msgs, "; ")
}

// NewDefinitionValidator returns a validator. A nil config means DefaultConfig.
func NewDefinitionValidator(log logger.Logger, config *ValidatorConfig) *DefinitionValidator {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &DefinitionValidator{logger: log, config: config}
}

// Allowed reports whether files with this extension are queue candidates.
func (v *DefinitionValidator) Allowed(ext string) bool {
	_, ok := v.config.Allowed[strings.ToLower(ext)]
	return ok
}

// Extensions returns the accepted extensions, sorted.
func (v *DefinitionValidator) Extensions() []string {
	exts := make([]string, 0, len(v.config.Allowed))
	for ext := range v.config.Allowed {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ValidateFile checks the file at path. The returned error is reserved for
// I/O failures; rule violations are reported in the result.
func (v *DefinitionValidator) ValidateFile(path string) (*ValidationResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	result := &ValidationResult{
		IsValid: true,
		FileInfo: FileInfo{
			Filename:  filepath.Base(path),
			Size:      st.Size(),
			Extension: strings.ToLower(filepath.Ext(path)),
		},
	}

	if errs := v.performBasicValidation(result.FileInfo); len(errs) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, errs...)
		// Oversized or unknown files are not read any further.
		return result, nil
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	result.FileInfo.Hash = hash(content)
	result.FileInfo.MimeType = http.DetectContentType(content)

	if errs := v.validateContent(result.FileInfo, content); len(errs) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, errs...)
	}

	if !result.IsValid {
		v.logger.Warn("Definition failed validation",
			logger.String("file", result.FileInfo.Filename),
			logger.String("errors", result.Summary()))
	}
	return result, nil
}

// ValidateFiles validates paths concurrently; results keep the input order.
func (v *DefinitionValidator) ValidateFiles(ctx context.Context, paths []string) ([]*ValidationResult, error) {
	results := make([]*ValidationResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := v.ValidateFile(p)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(p), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (v *DefinitionValidator) performBasicValidation(info FileInfo) []ValidationError {
	var errs []ValidationError

	if info.Size > v.config.MaxFileSize {
		errs = append(errs, ValidationError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("file size %d exceeds maximum limit of %d bytes", info.Size, v.config.MaxFileSize),
			Field:   "size",
		})
	}
	if info.Size < v.config.MinFileSize {
		errs = append(errs, ValidationError{
			Code:    "FILE_EMPTY",
			Message: "definition file is empty",
			Field:   "size",
		})
	}
	if !v.Allowed(info.Extension) {
		errs = append(errs, ValidationError{
			Code:    "INVALID_FILE_TYPE",
			Message: fmt.Sprintf("file type %q is not allowed", info.Extension),
			Field:   "extension",
		})
	}
	return errs
}

func (v *DefinitionValidator) validateContent(info FileInfo, content []byte) []ValidationError {
	var errs []ValidationError

	if !utf8.Valid(content) {
		errs = append(errs, ValidationError{
			Code:    "INVALID_ENCODING",
			Message: "definition is not valid UTF-8",
			Field:   "content",
		})
	}
	if strings.TrimSpace(string(content)) == "" {
		errs = append(errs, ValidationError{
			Code:    "FILE_EMPTY",
			Message: "definition has no content",
			Field:   "content",
		})
	}

	mimeValid := false
	for _, prefix := range v.config.Allowed[info.Extension] {
		if strings.HasPrefix(info.MimeType, prefix) {
			mimeValid = true
			break
		}
	}
	if !mimeValid {
		errs = append(errs, ValidationError{
			Code:    "INVALID_MIME_TYPE",
			Message: fmt.Sprintf("invalid MIME type %s for extension %s", info.MimeType, info.Extension),
			Field:   "mimeType",
		})
	}
	return errs
}

func hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
