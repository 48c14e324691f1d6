package response

import (
	"encoding/json"
	"testing"
)

func TestDecodeTotalForms(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		value    int64
		relation string
	}{
		{"number", `{"hits":{"total":42,"hits":[]}}`, 42, "eq"},
		{"object", `{"hits":{"total":{"value":10000,"relation":"gte"},"hits":[]}}`, 10000, "gte"},
		{"missing", `{"hits":{"hits":[]}}`, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Decode([]byte(tt.body))
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if s.Total() != tt.value || s.Hits.Total.Relation != tt.relation {
				t.Errorf("total = %+v, want %d/%s", s.Hits.Total, tt.value, tt.relation)
			}
		})
	}
}

func TestIsSuccessful(t *testing.T) {
	ok, _ := Decode([]byte(`{"_shards":{"total":2,"successful":2,"failed":0}}`))
	if !ok.IsSuccessful() {
		t.Error("no failed shards reported as unsuccessful")
	}
	bad, _ := Decode([]byte(`{"_shards":{"total":2,"successful":1,"failed":1}}`))
	if bad.IsSuccessful() {
		t.Error("failed shard reported as successful")
	}
}

func TestSources(t *testing.T) {
	s, err := Decode([]byte(`{"hits":{"total":2,"hits":[
		{"_id":"1","_score":1.5,"_source":{"title":"a"}},
		{"_id":"2","_score":1.0,"_source":{"title":"b"}}]}}`))
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for id := range s.Sources() {
		ids = append(ids, id)
	}
	if len(ids) != 2 || ids[0] != "1" || ids[1] != "2" {
		t.Errorf("ids = %v", ids)
	}

	type doc struct {
		Title string `json:"title"`
	}
	docs, err := DecodeSources[doc](s)
	if err != nil {
		t.Fatalf("DecodeSources: %v", err)
	}
	if docs[1].Title != "b" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestTotalMarshalsAsObject(t *testing.T) {
	data, err := json.Marshal(Total{Value: 3, Relation: "eq"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"value":3,"relation":"eq"}` {
		t.Errorf("marshal = %s", data)
	}
}
