package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"

	"scoresync/internal/cloud"
)

const (
	DefaultDriveAPIBaseURL    = "https://www.googleapis.com/drive/v3"
	DefaultDriveUploadBaseURL = "https://www.googleapis.com/upload/drive/v3"
	DefaultPageSize           = 100

	fileFields = "id,name,mimeType,parents,createdTime,modifiedTime,size,properties"
	listFields = "nextPageToken,files(" + fileFields + ")"
)

// DriveOptions configures a DriveClient. Zero values select the defaults.
type DriveOptions struct {
	APIBaseURL    string
	UploadBaseURL string
	PageSize      int
	HTTPClient    *http.Client
	Logger        cloud.Logger
}

// DriveClient implements cloud.ResourceClient over the Drive v3 REST surface.
// Requests carry the bearer token from tokens; timeouts are the transport's.
type DriveClient struct {
	http       *resty.Client
	tokens     oauth2.TokenSource
	apiBase    string
	uploadBase string
	pageSize   int
	logger     cloud.Logger
}

// NewDriveClient creates a DriveClient authorized by tokens.
func NewDriveClient(tokens oauth2.TokenSource, opts DriveOptions) *DriveClient {
	if opts.APIBaseURL == "" {
		opts.APIBaseURL = DefaultDriveAPIBaseURL
	}
	if opts.UploadBaseURL == "" {
		opts.UploadBaseURL = DefaultDriveUploadBaseURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = cloud.NewNopLogger()
	}

	rc := resty.New()
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	}

	return &DriveClient{
		http:       rc,
		tokens:     tokens,
		apiBase:    opts.APIBaseURL,
		uploadBase: opts.UploadBaseURL,
		pageSize:   opts.PageSize,
		logger:     opts.Logger,
	}
}

// errorReply is the JSON error envelope of the REST surface.
type errorReply struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// request executes one authorized call. out, if set, receives the decoded
// JSON body. Any non-2xx status becomes a *cloud.StatusError.
func (c *DriveClient) request(ctx context.Context, op, method, url string, callback func(req *resty.Request), out any) (*resty.Response, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w (%v)", op, cloud.ErrNotAuthorized, err)
	}

	req := c.http.R().SetContext(ctx).SetAuthToken(tok.AccessToken)
	if callback != nil {
		callback(req)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return resp, statusError(op, resp)
	}

	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return resp, fmt.Errorf("%s: decoding response: %w", op, err)
		}
	}
	return resp, nil
}

func statusError(op string, resp *resty.Response) error {
	e := &cloud.StatusError{Op: op, StatusCode: resp.StatusCode()}
	var reply errorReply
	if err := json.Unmarshal(resp.Body(), &reply); err == nil && reply.Error.Message != "" {
		e.Message = reply.Error.Message
	} else {
		e.Message = http.StatusText(resp.StatusCode())
	}
	return e
}

func (c *DriveClient) FindByNameAndParent(ctx context.Context, name, parentID, mimeType string) (*cloud.Resource, error) {
	found, err := c.list(ctx, cloud.Query{ParentID: parentID, Name: name, MimeType: mimeType}, "", 10)
	if err != nil {
		return nil, err
	}
	if len(found.Files) == 0 {
		return nil, nil
	}
	return fromDriveFile(found.Files[0]), nil
}

func (c *DriveClient) CreateFolder(ctx context.Context, name, parentID string) (*cloud.Resource, error) {
	meta := &drive.File{Name: name, MimeType: cloud.FolderMimeType, Parents: []string{parentID}}
	var created drive.File
	_, err := c.request(ctx, "create folder", http.MethodPost, c.apiBase+"/files", func(req *resty.Request) {
		req.SetQueryParam("fields", fileFields).
			SetHeader("Content-Type", "application/json").
			SetBody(meta)
	}, &created)
	if err != nil {
		return nil, err
	}
	return fromDriveFile(&created), nil
}

func (c *DriveClient) UploadOrReplace(ctx context.Context, parentID, name, mimeType string, body []byte) (*cloud.Resource, error) {
	existing, err := c.findFile(ctx, name, parentID)
	if err != nil {
		return nil, err
	}

	var out drive.File
	if existing != nil {
		_, err = c.request(ctx, "replace", http.MethodPatch, c.uploadBase+"/files/"+existing.ID, func(req *resty.Request) {
			req.SetQueryParams(map[string]string{"uploadType": "media", "fields": fileFields}).
				SetHeader("Content-Type", mimeType).
				SetBody(body)
		}, &out)
		if err != nil {
			return nil, err
		}
		c.logger.Debug("file replaced", "name", name, "id", existing.ID)
		return fromDriveFile(&out), nil
	}

	payload, contentType, err := multipartRelated(&drive.File{Name: name, MimeType: mimeType, Parents: []string{parentID}}, mimeType, body)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	_, err = c.request(ctx, "upload", http.MethodPost, c.uploadBase+"/files", func(req *resty.Request) {
		req.SetQueryParams(map[string]string{"uploadType": "multipart", "fields": fileFields}).
			SetHeader("Content-Type", contentType).
			SetBody(payload)
	}, &out)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("file created", "name", name, "id", out.Id)
	return fromDriveFile(&out), nil
}

// findFile is FindByNameAndParent restricted to non-folders.
func (c *DriveClient) findFile(ctx context.Context, name, parentID string) (*cloud.Resource, error) {
	found, err := c.list(ctx, cloud.Query{ParentID: parentID, Name: name, FilesOnly: true}, "", 1)
	if err != nil {
		return nil, err
	}
	if len(found.Files) == 0 {
		return nil, nil
	}
	return fromDriveFile(found.Files[0]), nil
}

func (c *DriveClient) Move(ctx context.Context, resourceID, fromParent, toParent string) error {
	_, err := c.request(ctx, "move", http.MethodPatch, c.apiBase+"/files/"+resourceID, func(req *resty.Request) {
		req.SetQueryParams(map[string]string{
			"addParents":    toParent,
			"removeParents": fromParent,
			"fields":        "id,parents",
		}).
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]any{})
	}, nil)
	return err
}

func (c *DriveClient) Delete(ctx context.Context, resourceID string) error {
	_, err := c.request(ctx, "delete", http.MethodDelete, c.apiBase+"/files/"+resourceID, nil, nil)
	if cloud.IsNotFound(err) {
		c.logger.Debug("delete target already gone", "id", resourceID)
		return nil
	}
	return err
}

func (c *DriveClient) ListAll(ctx context.Context, q cloud.Query) ([]*cloud.Resource, error) {
	var all []*cloud.Resource
	pageToken := ""
	for {
		page, err := c.list(ctx, q, pageToken, c.pageSize)
		if err != nil {
			return nil, err
		}
		for _, f := range page.Files {
			all = append(all, fromDriveFile(f))
		}
		if page.NextPageToken == "" {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *DriveClient) list(ctx context.Context, q cloud.Query, pageToken string, pageSize int) (*drive.FileList, error) {
	fields := q.Fields
	if fields == "" {
		fields = listFields
	}
	params := map[string]string{
		"q":        q.String(),
		"fields":   fields,
		"pageSize": strconv.Itoa(pageSize),
		"spaces":   "drive",
		"orderBy":  "createdTime",
	}
	if pageToken != "" {
		params["pageToken"] = pageToken
	}

	var list drive.FileList
	_, err := c.request(ctx, "list", http.MethodGet, c.apiBase+"/files", func(req *resty.Request) {
		req.SetQueryParams(params)
	}, &list)
	if err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *DriveClient) Download(ctx context.Context, resourceID string) ([]byte, error) {
	resp, err := c.request(ctx, "download", http.MethodGet, c.apiBase+"/files/"+resourceID, func(req *resty.Request) {
		req.SetQueryParam("alt", "media")
	}, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// SetProperties patches the given tags. Empty values are sent as null, which
// removes the tag.
func (c *DriveClient) SetProperties(ctx context.Context, resourceID string, props map[string]string) error {
	patch := make(map[string]any, len(props))
	for k, v := range props {
		if v == "" {
			patch[k] = nil
			continue
		}
		patch[k] = v
	}
	_, err := c.request(ctx, "set properties", http.MethodPatch, c.apiBase+"/files/"+resourceID, func(req *resty.Request) {
		req.SetQueryParam("fields", "id").
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]any{"properties": patch})
	}, nil)
	return err
}

func (c *DriveClient) EmptyProviderTrash(ctx context.Context) error {
	_, err := c.request(ctx, "empty trash", http.MethodDelete, c.apiBase+"/files/trash", nil, nil)
	return err
}

// multipartRelated builds a multipart/related body of JSON metadata followed
// by the media, and returns it with its Content-Type.
func multipartRelated(meta *drive.File, mimeType string, media []byte) ([]byte, string, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", fmt.Errorf("encoding metadata: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(metaJSON); err != nil {
		return nil, "", err
	}

	part, err = w.CreatePart(textproto.MIMEHeader{"Content-Type": {mimeType}})
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(media); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "multipart/related; boundary=" + w.Boundary(), nil
}

func fromDriveFile(f *drive.File) *cloud.Resource {
	r := &cloud.Resource{
		ID:         f.Id,
		Name:       f.Name,
		MimeType:   f.MimeType,
		Parents:    f.Parents,
		Size:       f.Size,
		Properties: f.Properties,
	}
	if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
		r.CreatedTime = t
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		r.ModifiedTime = t
	}
	return r
}

// Compile-time check that DriveClient implements cloud.ResourceClient
var _ cloud.ResourceClient = (*DriveClient)(nil)
