package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"html"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/rl1809/loadout/internal/adapter/storage"
	"github.com/rl1809/loadout/internal/core/domain"
	"github.com/rl1809/loadout/internal/core/service"
)

type AdminHandlerSuite struct {
	suite.Suite
	builds    *service.BuildService
	router    *gin.Engine
	uploadDir string
}

func TestAdminHandlerSuite(t *testing.T) {
	suite.Run(t, new(AdminHandlerSuite))
}

func (s *AdminHandlerSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	dir := s.T().TempDir()

	adapter, err := storage.Open(context.Background(), storage.DBConfig{
		Dialect: storage.DialectSQLite,
		DSN:     filepath.Join(dir, "builds.db"),
	})
	s.Require().NoError(err)
	s.T().Cleanup(func() { adapter.Close() })

	s.uploadDir = filepath.Join(dir, "uploads")
	images, err := storage.NewDiskImageStore(s.uploadDir, "/uploads")
	s.Require().NoError(err)

	s.builds = service.NewBuildService(adapter, zap.NewNop())
	h := NewAdminHandler(s.builds, images, 1<<20, zap.NewNop())

	s.router, err = NewRouter(h, RouterConfig{UploadDir: s.uploadDir, UploadURLPrefix: "/uploads"}, zap.NewNop())
	s.Require().NoError(err)
}

func (s *AdminHandlerSuite) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *AdminHandlerSuite) doJSON(method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *AdminHandlerSuite) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func (s *AdminHandlerSuite) createBuild(name, buildType string, tier *int) int64 {
	id, err := s.builds.CreateBuild(context.Background(), domain.BuildFields{Name: name, Type: buildType, Tier: tier})
	s.Require().NoError(err)
	return id
}

func (s *AdminHandlerSuite) decodeSnapshot(w *httptest.ResponseRecorder) snapshotResponse {
	var out snapshotResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (s *AdminHandlerSuite) TestCreateAndGetAPI() {
	w := s.doJSON(http.MethodPost, "/api/builds", map[string]any{
		"name": "Ganker T6", "description": "Solo gank set", "type": "ganking", "tier": 6,
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		ID int64 `json:"id"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &created))
	s.Positive(created.ID)

	w = s.doJSON(http.MethodGet, "/api/builds/"+itoa(created.ID), nil)
	s.Require().Equal(http.StatusOK, w.Code)

	snapshot := s.decodeSnapshot(w)
	s.Equal("Ganker T6", snapshot.Name)
	s.Equal("Solo gank set", snapshot.Description)
	s.Require().NotNil(snapshot.Tier)
	s.Equal(6, *snapshot.Tier)
	s.NotNil(snapshot.Items)
	s.Empty(snapshot.Items)
	s.NotEmpty(w.Header().Get(requestIDHeader))
}

func (s *AdminHandlerSuite) TestCreateAPI_Validation() {
	w := s.doJSON(http.MethodPost, "/api/builds", map[string]any{"name": " ", "type": "ganking"})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Body.String(), "name")

	w = s.doJSON(http.MethodPost, "/api/builds", map[string]any{"name": "x", "type": "ganking", "tier": "six"})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *AdminHandlerSuite) TestReplaceAPI_LooseItems() {
	id := s.createBuild("Ganker T6", domain.BuildTypeGanking, domain.IntPtr(6))

	w := s.doJSON(http.MethodPut, "/api/builds/"+itoa(id), map[string]any{
		"name": "Ganker T6", "type": "ganking", "tier": 6,
		"items": map[string]any{
			"weapon": []map[string]string{{"item_name": "Claymore"}, {"item_name": "Bloodletter"}},
			"head":   map[string]string{"item_name": "Assassin Hood"},
			"cape":   nil,
		},
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	snapshot := s.decodeSnapshot(w)
	s.Require().Len(snapshot.Items["weapon"], 2)
	s.Equal("Claymore", snapshot.Items["weapon"][0].ItemName)
	s.False(snapshot.Items["weapon"][0].IsAlternative)
	s.True(snapshot.Items["weapon"][1].IsAlternative)
	s.Require().Len(snapshot.Items["head"], 1)
	s.False(snapshot.Items["head"][0].IsAlternative)
	s.NotContains(snapshot.Items, "cape")

	// omitting items clears the build
	w = s.doJSON(http.MethodPut, "/api/builds/"+itoa(id), map[string]any{"name": "Ganker T6", "type": "ganking"})
	s.Require().Equal(http.StatusOK, w.Code)
	snapshot = s.decodeSnapshot(w)
	s.Empty(snapshot.Items)
	s.Nil(snapshot.Tier)
}

func (s *AdminHandlerSuite) TestReplaceAPI_MalformedItemsWriteNothing() {
	id := s.createBuild("Farmer", domain.BuildTypeFarming, nil)

	for _, items := range []any{
		map[string]any{"weapon": "Sickle"},
		map[string]any{"weapon": []any{map[string]any{"item_name": 42}}},
		[]any{"weapon"},
		map[string]any{"": map[string]string{"item_name": "Orphan"}},
	} {
		w := s.doJSON(http.MethodPut, "/api/builds/"+itoa(id), map[string]any{
			"name": "Changed", "type": "farming", "items": items,
		})
		s.Equal(http.StatusBadRequest, w.Code, "items %v", items)
	}

	b, err := s.builds.GetBuild(context.Background(), id)
	s.Require().NoError(err)
	s.Equal("Farmer", b.Name)
}

func (s *AdminHandlerSuite) TestReplaceAPI_NotFound() {
	w := s.doJSON(http.MethodPut, "/api/builds/999", map[string]any{"name": "x", "type": "custom"})
	s.Equal(http.StatusNotFound, w.Code)
	s.JSONEq(`{"error":"build not found"}`, w.Body.String())

	w = s.doJSON(http.MethodGet, "/api/builds/abc", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *AdminHandlerSuite) TestListAPI_Filters() {
	farm4 := s.createBuild("farm4", domain.BuildTypeFarming, domain.IntPtr(4))
	farm := s.createBuild("farm", domain.BuildTypeFarming, nil)
	s.createBuild("gank", domain.BuildTypeGanking, domain.IntPtr(4))

	ids := func(w *httptest.ResponseRecorder) []int64 {
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
		var out []buildResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &out))
		var got []int64
		for _, b := range out {
			got = append(got, b.ID)
		}
		return got
	}

	s.Equal([]int64{farm4, farm}, ids(s.doJSON(http.MethodGet, "/api/builds?type=farming", nil)))
	s.Equal([]int64{farm4}, ids(s.doJSON(http.MethodGet, "/api/builds?type=farming&tier=4", nil)))
	s.Equal([]int64{farm, farm4}, ids(s.doJSON(http.MethodGet, "/api/builds?type=farming&order=newest", nil)))
	s.Empty(ids(s.doJSON(http.MethodGet, "/api/builds?type=avalon", nil)))

	w := s.doJSON(http.MethodGet, "/api/builds?tier=high", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *AdminHandlerSuite) TestAddBuildForm() {
	w := s.do(httptest.NewRequest(http.MethodGet, "/add-build", nil))
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `<option value="gathering">`)

	w = s.postForm("/add-build", url.Values{"name": {"Gatherer"}, "type": {"gathering"}, "tier": {"5"}})
	s.Require().Equal(http.StatusSeeOther, w.Code, w.Body.String())
	s.True(strings.HasPrefix(w.Header().Get("Location"), "/edit-build/"))

	id, err := strconv.ParseInt(strings.TrimPrefix(w.Header().Get("Location"), "/edit-build/"), 10, 64)
	s.Require().NoError(err)
	b, err := s.builds.GetBuild(context.Background(), id)
	s.Require().NoError(err)
	s.Equal("Gatherer", b.Name)
	s.Equal(5, *b.Tier)
}

func (s *AdminHandlerSuite) TestAddBuildForm_Invalid() {
	w := s.postForm("/add-build", url.Values{"name": {"Keep me"}, "type": {""}})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Body.String(), "type is required")
	s.Contains(w.Body.String(), `value="Keep me"`)

	w = s.postForm("/add-build", url.Values{"name": {"x"}, "type": {"farming"}, "tier": {"-1"}})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *AdminHandlerSuite) TestUpdateBuildForm_BracketFields() {
	id := s.createBuild("Solo", domain.BuildTypeSoloPvP, nil)

	w := s.postForm("/update-build/"+itoa(id), url.Values{
		"name":                               {"Solo Duelist"},
		"type":                               {"solo_pvp"},
		"tier":                               {"7"},
		"items[weapon][0][item_name]":        {"Claymore"},
		"items[weapon][0][item_description]": {"Main hand"},
		"items[weapon][1][item_name]":        {""},
		"items[weapon][2][item_name]":        {"Bloodletter"},
		"items[head][0][item_name]":          {""},
		"items[shoes][item_name]":            {"Soldier Boots"},
	})
	s.Require().Equal(http.StatusSeeOther, w.Code, w.Body.String())
	s.Equal("/build/"+itoa(id), w.Header().Get("Location"))

	snapshot, err := s.builds.LoadBuild(context.Background(), id)
	s.Require().NoError(err)
	s.Equal("Solo Duelist", snapshot.Build.Name)
	s.Equal(7, *snapshot.Build.Tier)
	s.Require().Len(snapshot.Items["weapon"], 2)
	s.Equal("Main hand", snapshot.Items["weapon"][0].ItemDescription)
	s.Equal("Bloodletter", snapshot.Items["weapon"][1].ItemName)
	s.True(snapshot.Items["weapon"][1].IsAlternative)
	s.Len(snapshot.Items["shoes"], 1)
	s.NotContains(snapshot.Items, "head")
}

func (s *AdminHandlerSuite) TestUpdateBuildForm_MultipartImage() {
	id := s.createBuild("Avalon", domain.BuildTypeAvalon, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	s.Require().NoError(mw.WriteField("name", "Avalon Healer"))
	s.Require().NoError(mw.WriteField("type", "avalon"))
	s.Require().NoError(mw.WriteField("items", `{"weapon": [{"item_name": "Hallowfall"}], "head": {"item_name": "Cleric Cowl", "item_image": "/img/cowl.png"}}`))
	fw, err := mw.CreateFormFile("item_image", "staff.png")
	s.Require().NoError(err)
	_, err = fw.Write([]byte("\x89PNG fake"))
	s.Require().NoError(err)
	s.Require().NoError(mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/update-build/"+itoa(id), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := s.do(req)
	s.Require().Equal(http.StatusSeeOther, w.Code, w.Body.String())

	snapshot, err := s.builds.LoadBuild(context.Background(), id)
	s.Require().NoError(err)
	weapon, ok := snapshot.Items.Primary("weapon")
	s.Require().True(ok)
	s.True(strings.HasPrefix(weapon.ItemImage, "/uploads/"))
	s.Equal("/img/cowl.png", snapshot.Items["head"][0].ItemImage)

	_, err = os.Stat(filepath.Join(s.uploadDir, path.Base(weapon.ItemImage)))
	s.NoError(err)

	w = s.do(httptest.NewRequest(http.MethodGet, weapon.ItemImage, nil))
	s.Equal(http.StatusOK, w.Code)
}

func (s *AdminHandlerSuite) TestUpdateBuildForm_RejectsBadImage() {
	id := s.createBuild("Avalon", domain.BuildTypeAvalon, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	s.Require().NoError(mw.WriteField("name", "Changed"))
	s.Require().NoError(mw.WriteField("type", "avalon"))
	fw, err := mw.CreateFormFile("item_image", "payload.exe")
	s.Require().NoError(err)
	_, err = fw.Write([]byte("MZ"))
	s.Require().NoError(err)
	s.Require().NoError(mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/update-build/"+itoa(id), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := s.do(req)
	s.Equal(http.StatusBadRequest, w.Code)

	b, err := s.builds.GetBuild(context.Background(), id)
	s.Require().NoError(err)
	s.Equal("Avalon", b.Name)
}

func (s *AdminHandlerSuite) TestUpdateBuildForm_NotFound() {
	w := s.postForm("/update-build/404", url.Values{"name": {"x"}, "type": {"custom"}})
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *AdminHandlerSuite) TestPages() {
	id := s.createBuild("Group Tank", domain.BuildTypeGroupPvP, domain.IntPtr(8))
	s.Require().NoError(s.builds.ReplaceBuild(context.Background(), id,
		domain.BuildFields{Name: "Group Tank", Type: domain.BuildTypeGroupPvP, Tier: domain.IntPtr(8)},
		domain.ItemSet{"weapon": {{ItemName: "Grailseeker"}, {ItemName: "Hand of Justice"}}}))

	w := s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "Group Tank")
	s.Contains(w.Body.String(), "T8")

	w = s.do(httptest.NewRequest(http.MethodGet, "/build/"+itoa(id), nil))
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "Grailseeker")
	s.Contains(w.Body.String(), "Hand of Justice (alternative)")

	w = s.do(httptest.NewRequest(http.MethodGet, "/edit-build/"+itoa(id), nil))
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `name="items[weapon][1][item_name]" value="Hand of Justice"`)
	s.Contains(w.Body.String(), `name="items[mount][0][item_name]"`)

	w = s.do(httptest.NewRequest(http.MethodGet, "/build/999", nil))
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *AdminHandlerSuite) TestHealthAndMetrics() {
	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"status":"ok"}`, w.Body.String())

	s.createBuild("metered", domain.BuildTypeCustom, nil)
	w = s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "loadout_builds_created_total")
}

func (s *AdminHandlerSuite) TestEditFormRoundTripKeepsItems() {
	ctx := context.Background()
	id := s.createBuild("Roaming", domain.BuildTypeSoloPvP, nil)

	w := s.doJSON(http.MethodPut, "/api/builds/"+itoa(id), map[string]any{
		"name": "Roaming", "description": "Open world & mists", "type": "solo_pvp", "tier": 7,
		"items": map[string]any{
			"weapon": []map[string]string{
				{"item_name": "Bloodletter", "item_image": "/uploads/bl.png"},
				{"item_name": "Claymore", "item_description": `if "tanky"`},
			},
			"off hand": map[string]string{"item_name": "Torch"},
			"relic":    []map[string]string{{"item_name": "Charm <T7>"}},
		},
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	before, err := s.builds.LoadBuild(ctx, id)
	s.Require().NoError(err)
	s.Require().Equal(4, before.Items.Count())

	// submit the edit page exactly as rendered
	w = s.postForm("/update-build/"+itoa(id), s.editFormValues(id))
	s.Require().Equal(http.StatusSeeOther, w.Code, w.Body.String())

	after, err := s.builds.LoadBuild(ctx, id)
	s.Require().NoError(err)
	s.Equal(itemSetFromItems(before.Items), itemSetFromItems(after.Items))
	s.Equal(before.Build.Name, after.Build.Name)
	s.Equal(before.Build.Description, after.Build.Description)
	s.Equal(before.Build.Type, after.Build.Type)
	s.Equal(before.Build.Tier, after.Build.Tier)
}

func (s *AdminHandlerSuite) TestReplaceAPI_RejectsBracketSlot() {
	ctx := context.Background()
	id := s.createBuild("Torchbearer", domain.BuildTypeCustom, nil)
	fields := domain.BuildFields{Name: "Torchbearer", Type: domain.BuildTypeCustom}
	s.Require().NoError(s.builds.ReplaceBuild(ctx, id, fields, domain.ItemSet{"weapon": {{ItemName: "Sword"}}}))

	w := s.doJSON(http.MethodPut, "/api/builds/"+itoa(id), map[string]any{
		"name": "Torchbearer", "type": "custom",
		"items": map[string]any{
			"weapon":   []map[string]string{{"item_name": "Sword"}},
			"off]hand": []map[string]string{{"item_name": "Torch"}},
		},
	})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Body.String(), "square brackets")

	items, err := s.builds.GetItems(ctx, id)
	s.Require().NoError(err)
	s.Equal(1, items.Count())
}

func (s *AdminHandlerSuite) TestUpdateBuildForm_RejectedRequestLeavesNoUpload() {
	id := s.createBuild("Gatherer", domain.BuildTypeGathering, nil)

	w := s.postMultipart("/update-build/9999", map[string]string{"name": "x", "type": "custom"}, "ore.png")
	s.Equal(http.StatusNotFound, w.Code)

	w = s.postMultipart("/update-build/"+itoa(id), map[string]string{"name": " ", "type": "gathering"}, "ore.png")
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.postMultipart("/update-build/"+itoa(id), map[string]string{
		"name": "Gatherer", "type": "gathering", "items": `{"to[ol": {"item_name": "Pickaxe"}}`,
	}, "ore.png")
	s.Equal(http.StatusBadRequest, w.Code)

	entries, err := os.ReadDir(s.uploadDir)
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *AdminHandlerSuite) TestAPI_RejectsNegativeTier() {
	w := s.doJSON(http.MethodPost, "/api/builds", map[string]any{"name": "Below zero", "type": "farming", "tier": -1})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Body.String(), "tier")

	id := s.createBuild("Farmer", domain.BuildTypeFarming, domain.IntPtr(4))
	w = s.doJSON(http.MethodPut, "/api/builds/"+itoa(id), map[string]any{"name": "Farmer", "type": "farming", "tier": -3})
	s.Equal(http.StatusBadRequest, w.Code)

	b, err := s.builds.GetBuild(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(4, *b.Tier)
}

var (
	editInputPattern    = regexp.MustCompile(`<input name="([^"]*)"(?: [a-z]+="[^"]*")* value="([^"]*)"`)
	editTextareaPattern = regexp.MustCompile(`<textarea name="description">([^<]*)</textarea>`)
	editSelectedPattern = regexp.MustCompile(`<option value="([^"]*)" selected>`)
)

// editFormValues renders the edit page and collects what a browser would
// submit without any change.
func (s *AdminHandlerSuite) editFormValues(id int64) url.Values {
	w := s.do(httptest.NewRequest(http.MethodGet, "/edit-build/"+itoa(id), nil))
	s.Require().Equal(http.StatusOK, w.Code)
	page := w.Body.String()

	form := url.Values{}
	for _, m := range editInputPattern.FindAllStringSubmatch(page, -1) {
		form.Add(html.UnescapeString(m[1]), html.UnescapeString(m[2]))
	}
	if m := editTextareaPattern.FindStringSubmatch(page); m != nil {
		form.Set("description", html.UnescapeString(m[1]))
	}
	if m := editSelectedPattern.FindStringSubmatch(page); m != nil {
		form.Set("type", html.UnescapeString(m[1]))
	}
	form.Set("items", "")

	s.Require().NotEmpty(form.Get("name"))
	return form
}

func (s *AdminHandlerSuite) postMultipart(target string, fields map[string]string, fileName string) *httptest.ResponseRecorder {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		s.Require().NoError(mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("item_image", fileName)
	s.Require().NoError(err)
	_, err = fw.Write([]byte("\x89PNG fake"))
	s.Require().NoError(err)
	s.Require().NoError(mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
