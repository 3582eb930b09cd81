package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAttachment_EncodesFilename(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Attachment(c, "日程 3月.ics", "text/calendar; charset=utf-8", []byte("BEGIN:VCALENDAR"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	want := "attachment; filename*=UTF-8''%E6%97%A5%E7%A8%8B%203%E6%9C%88.ics"
	if got := w.Header().Get("Content-Disposition"); got != want {
		t.Errorf("Content-Disposition = %q, want %q", got, want)
	}
	if w.Body.String() != "BEGIN:VCALENDAR" {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}

func TestErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	ErrorWithDetails(c, http.StatusBadRequest, 17002, "日历事件参数无效", "end 必须晚于 start")

	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusBadRequest || resp.Code != 17002 || resp.Details == "" {
		t.Errorf("unexpected response %d %+v", w.Code, resp)
	}
}
