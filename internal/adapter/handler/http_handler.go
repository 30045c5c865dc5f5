package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rl1809/loadout/internal/core/domain"
	"github.com/rl1809/loadout/internal/core/service"
	"github.com/rl1809/loadout/internal/port"
)

const (
	formItemsField = "items"
	formImageField = "item_image"

	// multipart parts above this size spill to temporary files
	multipartMemory = 1 << 20
)

// AdminHandler serves the admin pages and the JSON API over the build store.
type AdminHandler struct {
	builds         *service.BuildService
	images         port.ImageStore
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewAdminHandler(builds *service.BuildService, images port.ImageStore, maxUploadBytes int64, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		builds:         builds,
		images:         images,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.Named("AdminHandler"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type buildRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	Tier        *int            `json:"tier"`
	Items       json.RawMessage `json:"items"`
}

func (r buildRequest) fields() domain.BuildFields {
	return domain.BuildFields{
		Name:        strings.TrimSpace(r.Name),
		Description: strings.TrimSpace(r.Description),
		Type:        strings.TrimSpace(r.Type),
		Tier:        r.Tier,
	}
}

type buildResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	Tier        *int      `json:"tier"`
	CreatedAt   time.Time `json:"created_at"`
}

type itemResponse struct {
	ID              int64  `json:"id"`
	ItemName        string `json:"item_name"`
	ItemDescription string `json:"item_description"`
	ItemImage       string `json:"item_image"`
	IsAlternative   bool   `json:"is_alternative"`
}

type snapshotResponse struct {
	buildResponse
	Items map[string][]itemResponse `json:"items"`
}

func toBuildResponse(b domain.Build) buildResponse {
	return buildResponse{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		Type:        b.Type,
		Tier:        b.Tier,
		CreatedAt:   b.CreatedAt,
	}
}

func toSnapshotResponse(s *domain.BuildWithItems) snapshotResponse {
	items := make(map[string][]itemResponse, len(s.Items))
	for slot, slotItems := range s.Items {
		out := make([]itemResponse, 0, len(slotItems))
		for _, it := range slotItems {
			out = append(out, itemResponse{
				ID:              it.ID,
				ItemName:        it.ItemName,
				ItemDescription: it.ItemDescription,
				ItemImage:       it.ItemImage,
				IsAlternative:   it.IsAlternative,
			})
		}
		items[slot] = out
	}
	return snapshotResponse{buildResponse: toBuildResponse(s.Build), Items: items}
}

// --- HTML pages ---

func (h *AdminHandler) Index(c *gin.Context) {
	builds, err := h.builds.ListBuilds(c.Request.Context(), domain.BuildFilter{NewestFirst: true})
	if err != nil {
		h.abortText(c, err)
		return
	}
	c.HTML(http.StatusOK, "index.html", gin.H{"Builds": builds})
}

func (h *AdminHandler) ShowBuild(c *gin.Context) {
	id, err := buildIDParam(c)
	if err != nil {
		h.abortText(c, err)
		return
	}

	snapshot, err := h.builds.LoadBuild(c.Request.Context(), id)
	if err != nil {
		h.abortText(c, err)
		return
	}

	c.HTML(http.StatusOK, "build.html", gin.H{
		"Build": snapshot.Build,
		"Slots": domain.SortedSlots(snapshot.Items),
		"Items": snapshot.Items,
	})
}

func (h *AdminHandler) NewBuildForm(c *gin.Context) {
	c.HTML(http.StatusOK, "add_build.html", gin.H{"Types": domain.BuildTypes})
}

func (h *AdminHandler) CreateBuildForm(c *gin.Context) {
	fields, err := formFields(c)
	if err == nil {
		var id int64
		id, err = h.builds.CreateBuild(c.Request.Context(), fields)
		if err == nil {
			c.Redirect(http.StatusSeeOther, fmt.Sprintf("/edit-build/%d", id))
			return
		}
	}

	if errors.Is(err, domain.ErrValidation) {
		c.HTML(http.StatusBadRequest, "add_build.html", gin.H{
			"Types": domain.BuildTypes,
			"Error": err.Error(),
			"Form":  fields,
		})
		return
	}
	h.abortText(c, err)
}

func (h *AdminHandler) EditBuildForm(c *gin.Context) {
	id, err := buildIDParam(c)
	if err != nil {
		h.abortText(c, err)
		return
	}

	snapshot, err := h.builds.LoadBuild(c.Request.Context(), id)
	if err != nil {
		h.abortText(c, err)
		return
	}

	c.HTML(http.StatusOK, "edit_build.html", gin.H{
		"Build": snapshot.Build,
		"Types": domain.BuildTypes,
		"Slots": editSlots(itemSetFromItems(snapshot.Items)),
	})
}

// UpdateBuildForm replaces the build from a urlencoded or multipart form.
// Items come either as a JSON document in the "items" field or as
// items[slot][index][field] inputs. An uploaded image is given to every named
// item that has none.
func (h *AdminHandler) UpdateBuildForm(c *gin.Context) {
	id, err := buildIDParam(c)
	if err != nil {
		h.abortText(c, err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.abortText(c, domain.NewValidationError("form", err.Error()))
		return
	}

	fields, err := formFields(c)
	if err != nil {
		h.abortText(c, err)
		return
	}

	var set domain.ItemSet
	if raw := strings.TrimSpace(c.Request.PostForm.Get(formItemsField)); raw != "" {
		if set, err = parseItemsJSON([]byte(raw)); err != nil {
			h.abortText(c, err)
			return
		}
	} else {
		set = parseItemsForm(c.Request.PostForm)
	}

	// reject before the upload touches disk
	ctx := c.Request.Context()
	if err := h.checkReplace(ctx, id, fields, set); err != nil {
		h.abortText(c, err)
		return
	}

	imageURL, err := h.saveUpload(c)
	if err != nil {
		h.abortText(c, err)
		return
	}
	applyUploadedImage(set, imageURL)

	if err := h.builds.ReplaceBuild(ctx, id, fields, set); err != nil {
		h.discardUpload(ctx, imageURL)
		h.abortText(c, err)
		return
	}

	c.Redirect(http.StatusSeeOther, fmt.Sprintf("/build/%d", id))
}

func (h *AdminHandler) checkReplace(ctx context.Context, id int64, fields domain.BuildFields, set domain.ItemSet) error {
	if _, err := h.builds.GetBuild(ctx, id); err != nil {
		return err
	}
	if err := fields.Validate(); err != nil {
		return err
	}
	return set.Validate()
}

func (h *AdminHandler) discardUpload(ctx context.Context, imageURL string) {
	if imageURL == "" {
		return
	}
	if err := h.images.DeleteImage(ctx, imageURL); err != nil {
		h.logger.Warn("failed to remove orphaned upload", zap.String("url", imageURL), zap.Error(err))
	}
}

func (h *AdminHandler) saveUpload(c *gin.Context) (string, error) {
	form := c.Request.MultipartForm
	if form == nil || len(form.File[formImageField]) == 0 {
		return "", nil
	}

	header := form.File[formImageField][0]
	if header.Filename == "" || header.Size == 0 {
		return "", nil
	}

	f, err := header.Open()
	if err != nil {
		return "", domain.NewValidationError(formImageField, "could not be read")
	}
	defer f.Close()

	url, err := h.images.SaveImage(c.Request.Context(), header.Filename, f)
	if err != nil {
		return "", err
	}

	h.logger.Info("image uploaded", zap.String("url", url), zap.Int64("size", header.Size))
	return url, nil
}

// --- JSON API ---

func (h *AdminHandler) ListBuildsAPI(c *gin.Context) {
	tier, err := parseTier(c.Query("tier"))
	if err != nil {
		h.abortJSON(c, err)
		return
	}

	filter := domain.BuildFilter{
		Type:        strings.TrimSpace(c.Query("type")),
		Tier:        tier,
		NewestFirst: c.Query("order") == "newest",
	}

	builds, err := h.builds.ListBuilds(c.Request.Context(), filter)
	if err != nil {
		h.abortJSON(c, err)
		return
	}

	out := make([]buildResponse, 0, len(builds))
	for _, b := range builds {
		out = append(out, toBuildResponse(b))
	}
	c.JSON(http.StatusOK, out)
}

func (h *AdminHandler) CreateBuildAPI(c *gin.Context) {
	var req buildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortJSON(c, domain.NewValidationError("body", "must be a valid JSON build"))
		return
	}

	id, err := h.builds.CreateBuild(c.Request.Context(), req.fields())
	if err != nil {
		h.abortJSON(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *AdminHandler) GetBuildAPI(c *gin.Context) {
	id, err := buildIDParam(c)
	if err != nil {
		h.abortJSON(c, err)
		return
	}

	snapshot, err := h.builds.LoadBuild(c.Request.Context(), id)
	if err != nil {
		h.abortJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, toSnapshotResponse(snapshot))
}

// ReplaceBuildAPI overwrites the build and its whole item set; omitted items
// clear the build.
func (h *AdminHandler) ReplaceBuildAPI(c *gin.Context) {
	id, err := buildIDParam(c)
	if err != nil {
		h.abortJSON(c, err)
		return
	}

	var req buildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortJSON(c, domain.NewValidationError("body", "must be a valid JSON build"))
		return
	}

	set, err := parseItemsJSON(req.Items)
	if err != nil {
		h.abortJSON(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.builds.ReplaceBuild(ctx, id, req.fields(), set); err != nil {
		h.abortJSON(c, err)
		return
	}

	snapshot, err := h.builds.LoadBuild(ctx, id)
	if err != nil {
		h.abortJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, toSnapshotResponse(snapshot))
}

func (h *AdminHandler) Health(c *gin.Context) {
	if err := h.builds.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- helpers ---

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(c *gin.Context, err error) (int, string) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		_ = c.Error(err)
		return status, "internal error"
	case http.StatusNotFound:
		return status, "build not found"
	default:
		return status, err.Error()
	}
}

func (h *AdminHandler) abortJSON(c *gin.Context, err error) {
	status, msg := publicMessage(c, err)
	c.AbortWithStatusJSON(status, errorResponse{Error: msg})
}

func (h *AdminHandler) abortText(c *gin.Context, err error) {
	status, msg := publicMessage(c, err)
	c.String(status, msg)
	c.Abort()
}

func buildIDParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}

func formFields(c *gin.Context) (domain.BuildFields, error) {
	fields := domain.BuildFields{
		Name:        strings.TrimSpace(c.PostForm("name")),
		Description: strings.TrimSpace(c.PostForm("description")),
		Type:        strings.TrimSpace(c.PostForm("type")),
	}

	tier, err := parseTier(c.PostForm("tier"))
	if err != nil {
		return fields, err
	}
	fields.Tier = tier
	return fields, nil
}

type editSlot struct {
	Name  string
	Items []domain.ItemInput
}

// editSlots lays out every known slot plus any custom ones, each with one
// blank row for adding an item.
func editSlots(set domain.ItemSet) []editSlot {
	all := make(domain.ItemSet, len(set)+len(domain.SlotOrder))
	for _, slot := range domain.SlotOrder {
		all[slot] = nil
	}
	for slot, items := range set {
		all[slot] = items
	}

	slots := make([]editSlot, 0, len(all))
	for _, slot := range all.Slots() {
		items := append(append([]domain.ItemInput(nil), all[slot]...), domain.ItemInput{})
		slots = append(slots, editSlot{Name: slot, Items: items})
	}
	return slots
}
