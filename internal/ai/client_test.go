package ai_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/ai"
	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func completionBody(content string) string {
	encoded, _ := json.Marshal(content)
	return fmt.Sprintf(`{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "test-model",
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": %s}}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`, encoded)
}

var _ = Describe("ai client", func() {
	var (
		server   *httptest.Server
		calls    atomic.Int32
		handler  http.HandlerFunc
		lastBody atomic.Value
	)

	BeforeEach(func() {
		calls.Store(0)
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			calls.Add(1)
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			lastBody.Store(body)
			handler(w, r)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	newClient := func(opts ...ai.ClientOption) *ai.Client {
		opts = append([]ai.ClientOption{ai.WithBaseBackoff(time.Millisecond)}, opts...)
		c, err := ai.NewClient(server.URL+"/v1", "test-key", "test-model", opts...)
		Expect(err).To(BeNil())
		return c
	}

	It("requires an api key", func() {
		_, err := ai.NewClient("http://localhost", "", "m")
		Expect(err).To(MatchError(ai.ErrAPIKeyNotSet))
	})

	It("reviews a cv", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			Expect(strings.HasSuffix(r.URL.Path, "/chat/completions")).To(BeTrue())
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer test-key"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(completionBody("Strong Go background.")))
		}

		review, err := newClient().ReviewCvAgainstJd(context.TODO(), "my cv", "the jd")
		Expect(err).To(BeNil())
		Expect(review).To(Equal("Strong Go background."))

		body := lastBody.Load().(map[string]any)
		Expect(body["model"]).To(Equal("test-model"))
		Expect(body).NotTo(HaveKey("response_format"))
	})

	It("builds a rubric from a json answer", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(completionBody(`{"sections":[{"name":"Experience","weight":0.7,"criteria":["Go"]},{"name":"Education","weight":0.3}]}`)))
		}

		rubric, err := newClient().BuildSectionRubric(context.TODO(), jobs.BuildRubricInput{Title: "Engineer"})
		Expect(err).To(BeNil())
		Expect(rubric.Sections).To(HaveLen(2))
		Expect(rubric.Sections[0].Criteria).To(ConsistOf("Go"))

		body := lastBody.Load().(map[string]any)
		Expect(body["response_format"]).To(HaveKeyWithValue("type", "json_object"))
	})

	It("reports an invalid rubric as invalid output", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(completionBody("not json")))
		}

		_, err := newClient().BuildSectionRubric(context.TODO(), jobs.BuildRubricInput{Title: "Engineer"})
		Expect(err).To(MatchError(jobs.ErrInvalidOutput))
	})

	It("retries rate limited calls", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if calls.Load() < 3 {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
				return
			}
			_, _ = w.Write([]byte(completionBody("done")))
		}

		review, err := newClient().ReviewCvAgainstJd(context.TODO(), "cv", "jd")
		Expect(err).To(BeNil())
		Expect(review).To(Equal("done"))
		Expect(calls.Load()).To(Equal(int32(3)))
	})

	It("gives up after the configured retries", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
		}

		_, err := newClient(ai.WithMaxRetries(1)).ReviewCvAgainstJd(context.TODO(), "cv", "jd")
		Expect(err).To(MatchError(ai.ErrMaxRetriesExceeded))
		Expect(calls.Load()).To(Equal(int32(2)))
	})

	It("does not retry other failures", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"bad"}}`))
		}

		_, err := newClient().ReviewCvAgainstJd(context.TODO(), "cv", "jd")
		Expect(err).NotTo(BeNil())
		Expect(calls.Load()).To(Equal(int32(1)))
	})

	It("stops at the context deadline", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(completionBody("late")))
		}

		ctx, cancel := context.WithTimeout(context.TODO(), 20*time.Millisecond)
		defer cancel()
		_, err := newClient().ReviewCvAgainstJd(ctx, "cv", "jd")
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})
})
