package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/cloo-solutions/homilia/internal/logging"
	"github.com/cloo-solutions/homilia/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// Citation markers have the shape [Document ID: <id>, Filename: <name>].
// Spaces and tabs around the keywords and punctuation are optional.
var (
	markerHead     = regexp.MustCompile(`^\[[ \t]*Document[ \t]*ID[ \t]*:`)
	markerFilename = regexp.MustCompile(`,[ \t]*Filename[ \t]*:`)
)

const markerSuffix = ']'

// DocumentLookup resolves a file id to its document summary.
type DocumentLookup interface {
	GetDocument(ctx context.Context, fileID string) (*domain.Document, error)
}

// LinkEncoder turns an object key into an opaque link token.
type LinkEncoder interface {
	Encode(objectKey string) string
}

// Reference is one numbered source of a rewritten answer.
type Reference struct {
	Number   int
	FileID   string
	Filename string
	Link     string
	Failure  *domain.Failure
}

// CitationResult is a rewritten answer and its ordered references.
type CitationResult struct {
	Text       string
	References []Reference
}

type citationMarker struct {
	start, end int
	fileID     string
	filename   string
}

// CitationService rewrites inline source markers into numbered citations.
type CitationService struct {
	lookup  DocumentLookup
	links   LinkEncoder
	baseURL string
	logger  logrus.FieldLogger
}

// NewCitationService creates a new CitationService. Links are rendered as
// baseURL + "/files/" + token.
func NewCitationService(lookup DocumentLookup, links LinkEncoder, baseURL string, logger logrus.FieldLogger) *CitationService {
	return &CitationService{
		lookup:  lookup,
		links:   links,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logging.Component(logger, "citation"),
	}
}

// Resolve numbers distinct file ids in order of first appearance, rewrites
// every marker to [n] and appends a Sources section. Text without markers is
// returned unchanged.
func (s *CitationService) Resolve(ctx context.Context, text string) *CitationResult {
	markers := scanMarkers(text)
	if len(markers) == 0 {
		return &CitationResult{Text: text}
	}

	ctx, span := telemetry.StartSpan(ctx, "CitationService.Resolve", telemetry.SpanAttributes{
		Operation: "cite",
	})
	defer span.End()

	numbers := make(map[string]int)
	var refs []Reference
	var b strings.Builder
	b.Grow(len(text))

	last := 0
	for _, m := range markers {
		n, ok := numbers[m.fileID]
		if !ok {
			n = len(refs) + 1
			numbers[m.fileID] = n
			refs = append(refs, Reference{Number: n, FileID: m.fileID, Filename: m.filename})
		}
		b.WriteString(text[last:m.start])
		fmt.Fprintf(&b, "[%d]", n)
		last = m.end
	}
	b.WriteString(text[last:])

	for i := range refs {
		s.resolveLink(ctx, &refs[i])
	}

	b.WriteString("\n\nSources:\n")
	for i, ref := range refs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(renderReference(ref))
	}

	return &CitationResult{Text: b.String(), References: refs}
}

func (s *CitationService) resolveLink(ctx context.Context, ref *Reference) {
	doc, err := s.lookup.GetDocument(ctx, ref.FileID)
	if err == nil && doc.ObjectKey == "" {
		err = domain.ErrObjectKeyMissing
	}
	if err != nil {
		ref.Failure = domain.NewFailure(domain.StageLookup, err)
		s.logger.WithError(err).WithField("file_id", ref.FileID).Warn("citation lookup failed")
		return
	}
	if ref.Filename == "" {
		ref.Filename = doc.Filename
	}
	ref.Link = s.baseURL + "/files/" + s.links.Encode(doc.ObjectKey)
}

func renderReference(ref Reference) string {
	if ref.Failure != nil {
		return fmt.Sprintf("%d. %s (reference unavailable)", ref.Number, ref.Filename)
	}
	return fmt.Sprintf("%d. [%s](%s)", ref.Number, ref.Filename, ref.Link)
}

// scanMarkers finds well-formed markers in a single left-to-right pass.
// Malformed candidates are left in the text as-is.
func scanMarkers(text string) []citationMarker {
	var markers []citationMarker
	pos := 0
	for pos < len(text) {
		i := strings.IndexByte(text[pos:], '[')
		if i < 0 {
			break
		}
		start := pos + i
		head := markerHead.FindStringIndex(text[start:])
		if head == nil {
			pos = start + 1
			continue
		}
		bodyStart := start + head[1]

		closeAt := strings.IndexByte(text[bodyStart:], markerSuffix)
		if closeAt < 0 {
			break
		}
		body := text[bodyStart : bodyStart+closeAt]

		sep := markerFilename.FindStringIndex(body)
		if sep == nil || strings.Contains(body, "[") {
			pos = start + 1
			continue
		}
		fileID := strings.TrimSpace(body[:sep[0]])
		if fileID == "" {
			pos = start + 1
			continue
		}

		end := bodyStart + closeAt + 1
		markers = append(markers, citationMarker{
			start:    start,
			end:      end,
			fileID:   fileID,
			filename: strings.TrimSpace(body[sep[1]:]),
		})
		pos = end
	}
	return markers
}
