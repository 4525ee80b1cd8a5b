// Package holiday parses the holidays.json chat attachment.
//
// A bad attachment is a poison pill for that message only: Parse reports a
// classified input error and never touches session state.
package holiday

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"taskcal/internal/apperr"
	"taskcal/internal/model"
)

const (
	// FileName is the only accepted attachment name.
	FileName = "holidays.json"
	// MediaType is the only accepted declared media type.
	MediaType = "application/json"
	// MaxBytes bounds the attachment payload.
	MaxBytes = 256 * 1024
)

// Rejection codes, stable for users and tests.
const (
	CodeAttachmentInvalid     = "ATTACHMENT_INVALID"
	CodeAttachmentJSONInvalid = "ATTACHMENT_JSON_INVALID"
	CodeHolidaysJSONInvalid   = "HOLIDAYS_JSON_INVALID"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Attachment is a document received from the chat transport.
type Attachment struct {
	Name      string
	MediaType string
	// Size is the size declared by the transport, checked before download.
	Size int
	Data []byte
}

// Rejection is returned for every refused attachment.
type Rejection struct {
	Code   string
	Detail string
}

func (r *Rejection) Error() string {
	return r.Code + ": " + r.Detail
}

// CheckHeader validates what is known before downloading the payload.
func CheckHeader(name, mediaType string, size int) error {
	if name != FileName {
		return reject(CodeAttachmentInvalid, fmt.Sprintf("file must be named %s", FileName))
	}
	if !strings.EqualFold(strings.TrimSpace(mediaType), MediaType) {
		return reject(CodeAttachmentInvalid, fmt.Sprintf("media type must be %s", MediaType))
	}
	if size < 0 || size > MaxBytes {
		return reject(CodeAttachmentInvalid, fmt.Sprintf("file must be at most %d KB", MaxBytes/1024))
	}
	return nil
}

// Parse validates an attachment and returns its holiday set.
func Parse(a Attachment) (model.HolidaySet, error) {
	if err := CheckHeader(a.Name, a.MediaType, a.Size); err != nil {
		return model.HolidaySet{}, err
	}
	if len(a.Data) > MaxBytes {
		return model.HolidaySet{}, reject(CodeAttachmentInvalid, fmt.Sprintf("file must be at most %d KB", MaxBytes/1024))
	}
	// Content sniffing catches binaries renamed to holidays.json.
	sniffed := mimetype.Detect(a.Data)
	if !sniffed.Is(MediaType) && !sniffed.Is("text/plain") {
		return model.HolidaySet{}, reject(CodeAttachmentInvalid, "content is "+sniffed.String())
	}

	var doc model.HolidayDocument
	if err := json.Unmarshal(a.Data, &doc); err != nil {
		return model.HolidaySet{}, reject(CodeAttachmentJSONInvalid, err.Error())
	}
	return FromDocument(doc)
}

// FromDocument validates a decoded holiday document.
func FromDocument(doc model.HolidayDocument) (model.HolidaySet, error) {
	if err := validate.Struct(doc); err != nil {
		return model.HolidaySet{}, reject(CodeHolidaysJSONInvalid, err.Error())
	}
	days := make(map[model.Date]string, len(doc.Dates))
	for i, e := range doc.Dates {
		d, err := model.ParseDate(e.Date)
		if err != nil {
			return model.HolidaySet{}, reject(CodeHolidaysJSONInvalid, fmt.Sprintf("dates[%d]: %v", i, err))
		}
		name := ""
		if e.Name != nil {
			name = strings.TrimSpace(*e.Name)
		}
		days[d] = name
	}
	return model.NewHolidaySet(days), nil
}

// ToDocument renders a set back into the attachment schema; extraction
// includes it verbatim in the model context.
func ToDocument(set model.HolidaySet) model.HolidayDocument {
	doc := model.HolidayDocument{Version: model.HolidaySchemaVersion, Dates: []model.HolidayEntry{}}
	for _, d := range set.Dates() {
		e := model.HolidayEntry{Date: d.String()}
		if n := set.Name(d); n != "" {
			e.Name = &n
		}
		doc.Dates = append(doc.Dates, e)
	}
	return doc
}

func reject(code, detail string) error {
	return apperr.Wrap(apperr.KindInput, code, &Rejection{Code: code, Detail: detail})
}
