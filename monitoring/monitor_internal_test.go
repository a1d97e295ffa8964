package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/kernelsim/mem/vm/tlb"
	"github.com/sarchlab/kernelsim/proc"
	"github.com/sarchlab/kernelsim/sched"
)

type sampleStruct struct {
	field1 int
	field2 string
	field3 *sampleStruct
	field4 []sampleStruct
}

func get(m *Monitor, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	m.Router().ServeHTTP(rec, req)

	return rec
}

var _ = Describe("Monitor", func() {
	var (
		m     *Monitor
		cache *tlb.Cache
		s     sched.Scheduler
	)

	BeforeEach(func() {
		m = NewMonitor()

		cache = tlb.MakeBuilder().
			WithNumEntries(4).
			WithLog2PageSize(1).
			WithMirrorSize(4).
			Build("TLB")
		s = sched.MakeBuilder().WithMaxPrio(4).Build("Sched")

		m.RegisterCache(cache)
		m.RegisterScheduler(s)
	})

	It("should list components", func() {
		rec := get(m, "/api/list_components")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`["Sched", "TLB"]`))
	})

	It("should report the schedulers", func() {
		Expect(s.AddProc(proc.New(5, 2, 0, nil))).To(Succeed())

		rec := get(m, "/api/sched")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`[{
			"name": "Sched",
			"policy": "mlq",
			"dispatches": 0,
			"queues": [{
				"name": "Sched.Level[2]",
				"level": 2,
				"budget": 2,
				"capacity": 10,
				"pids": [5]
			}]
		}]`))
	})

	It("should report the caches", func() {
		Expect(cache.Write(1, 1, 0xAB)).To(Succeed())
		_, _, err := cache.Read(1, 0)
		Expect(err).NotTo(HaveOccurred())

		rec := get(m, "/api/tlb")

		Expect(rec.Body.String()).To(MatchJSON(`[{
			"name": "TLB",
			"policy": "clear",
			"capacity": 4,
			"len": 1,
			"hits": 0,
			"misses": 1
		}]`))

		rec = get(m, "/api/tlb/TLB")

		Expect(rec.Body.String()).To(MatchJSON(`{
			"name": "TLB",
			"policy": "clear",
			"capacity": 4,
			"len": 1,
			"hits": 0,
			"misses": 1,
			"entries": [{"pid": 1, "page": 1, "address": 2}]
		}`))
	})

	It("should dump a cache", func() {
		Expect(cache.Write(1, 1, 0xAB)).To(Succeed())

		rec := get(m, "/api/tlb/TLB/dump")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("\t2: AB\n"))
	})

	It("should return 404 for unknown caches", func() {
		rec := get(m, "/api/tlb/L2TLB")

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should return 404 for unknown components", func() {
		rec := get(m, "/api/component/L2TLB")

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should read fields", func() {
		req, err := json.Marshal(fieldReq{CompName: "TLB", FieldName: "name"})
		Expect(err).NotTo(HaveOccurred())

		rec := get(m, "/api/field/"+url.PathEscape(string(req)))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{
			"type": "string",
			"value": "TLB"
		}`))
	})

	It("should report resources", func() {
		rec := get(m, "/api/resource")

		Expect(rec.Code).To(Equal(http.StatusOK))

		rsp := resourceRsp{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should track progress bars", func() {
		bar := m.CreateProgressBar("Workload", 3)
		bar.IncrementInProgress(2)
		bar.MoveInProgressToFinished(1)

		rec := get(m, "/api/progress")
		bars := []map[string]interface{}{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &bars)).To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0]["name"]).To(Equal("Workload"))
		Expect(bars[0]["finished"]).To(BeNumerically("==", 1))
		Expect(bars[0]["in_progress"]).To(BeNumerically("==", 1))
		Expect(bars[0]["total"]).To(BeNumerically("==", 3))

		m.CompleteProgressBar(bar)

		rec = get(m, "/api/progress")
		Expect(rec.Body.String()).To(MatchJSON(`[]`))
	})

	It("should serve the dashboard", func() {
		rec := get(m, "/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should walk int fields", func() {
		s := &sampleStruct{
			field1: 1,
		}

		elem, err := m.walkFields(s, "field1")

		Expect(err).To(BeNil())
		Expect(elem.Kind()).To(Equal(reflect.Int))
		Expect(elem.Int()).To(Equal(int64(1)))
	})

	It("should walk recursively", func() {
		s := &sampleStruct{
			field3: &sampleStruct{
				field2: "abc",
			},
		}

		elem, err := m.walkFields(s, "field3.field2")

		Expect(err).To(BeNil())
		Expect(elem.Kind()).To(Equal(reflect.String))
		Expect(elem.String()).To(Equal("abc"))
	})

	It("should walk slice recursively", func() {
		s := &sampleStruct{
			field4: []sampleStruct{{
				field4: []sampleStruct{
					{field1: 1},
				},
			}, {}},
		}

		elem, err := m.walkFields(s, "field4.0.field4.0.field1")

		Expect(err).To(BeNil())
		Expect(elem.Int()).To(Equal(int64(1)))
	})

	It("should reject fields that do not exist", func() {
		s := &sampleStruct{}

		_, err := m.walkFields(s, "field9")
		Expect(err).To(HaveOccurred())

		_, err = m.walkFields(s, "field4.3")
		Expect(err).To(HaveOccurred())
	})
})
