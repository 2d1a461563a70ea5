package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/p-blackswan/statusboard/internal/record"
)

func TestMatch(t *testing.T) {
	r := DefaultResolver()

	tests := []struct {
		name string
		a, b record.Record
		want Rule
	}{
		{
			name: "same id",
			a:    record.Of("id", "1", "NOMBRE Y APELLIDO", "PEREZ"),
			b:    record.Of("id", "1", "NOMBRE Y APELLIDO", "GOMEZ"),
			want: RuleID,
		},
		{
			name: "different ids never fall back to attributes",
			a:    record.Of("id", "1", "NOMBRE Y APELLIDO", "PEREZ", "DNI", "100"),
			b:    record.Of("id", "2", "NOMBRE Y APELLIDO", "PEREZ", "DNI", "100"),
			want: RuleNone,
		},
		{
			name: "one side without id uses name and DNI",
			a:    record.Of("NOMBRE Y APELLIDO", "PEREZ", "DNI", "100", "OS", "OSDE"),
			b:    record.Of("id", "9", "NOMBRE Y APELLIDO", "PEREZ", "DNI", "100", "OS", "PAMI"),
			want: RuleAttributes,
		},
		{
			name: "DNI mismatch",
			a:    record.Of("NOMBRE Y APELLIDO", "PEREZ", "DNI", "100"),
			b:    record.Of("NOMBRE Y APELLIDO", "PEREZ", "DNI", "200"),
			want: RuleNone,
		},
		{
			name: "DNI missing on one side falls back to OS",
			a:    record.Of("NOMBRE Y APELLIDO", "PEREZ", "OS", "OSDE 210"),
			b:    record.Of("NOMBRE Y APELLIDO", "PEREZ", "DNI", "100", "OS", "OSDE 210"),
			want: RuleAttributes,
		},
		{
			name: "OS mismatch when DNI missing",
			a:    record.Of("NOMBRE Y APELLIDO", "PEREZ", "OS", "OSDE"),
			b:    record.Of("NOMBRE Y APELLIDO", "PEREZ", "OS", "PAMI"),
			want: RuleNone,
		},
		{
			name: "empty id counts as missing",
			a:    record.Of("id", "", "NOMBRE Y APELLIDO", "PEREZ", "DNI", "100"),
			b:    record.Of("id", "5", "NOMBRE Y APELLIDO", "PEREZ", "DNI", "100"),
			want: RuleAttributes,
		},
		{
			name: "name differs",
			a:    record.Of("NOMBRE Y APELLIDO", "PEREZ", "DNI", "100"),
			b:    record.Of("NOMBRE Y APELLIDO", "GOMEZ", "DNI", "100"),
			want: RuleNone,
		},
		{
			name: "blank names never match",
			a:    record.Of("DNI", "100"),
			b:    record.Of("DNI", "100"),
			want: RuleNone,
		},
		{
			name: "numeric DNI equals string DNI",
			a:    record.Of("NOMBRE Y APELLIDO", "PEREZ", "DNI", 100),
			b:    record.Of("NOMBRE Y APELLIDO", "PEREZ", "DNI", "100"),
			want: RuleAttributes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Match(tt.a, tt.b))
			assert.Equal(t, tt.want, r.Match(tt.b, tt.a), "match must be symmetric")
			assert.Equal(t, tt.want != RuleNone, r.Equivalent(tt.a, tt.b))
		})
	}
}

func TestMatch_CustomFields(t *testing.T) {
	r := Resolver{NameField: "name", PrimaryField: "dni", FallbackField: "plan"}
	a := record.Of("name", "PEREZ", "plan", "gold")
	b := record.Of("name", "PEREZ", "plan", "gold", "dni", "1")
	assert.Equal(t, RuleAttributes, r.Match(a, b))
}

func TestMatch_DoesNotMutate(t *testing.T) {
	r := DefaultResolver()
	a := record.Of("id", "1", "NOMBRE Y APELLIDO", "PEREZ")
	b := record.Of("NOMBRE Y APELLIDO", "PEREZ")
	before := a.Clone()

	r.Match(a, b)
	assert.True(t, before.Equal(a))
	assert.Equal(t, []string{"NOMBRE Y APELLIDO"}, b.Keys())
}

func TestIndexOf(t *testing.T) {
	r := DefaultResolver()
	list := []record.Record{
		record.Of("id", "1"),
		record.Of("id", "2", "NOMBRE Y APELLIDO", "PEREZ", "DNI", "100"),
	}
	assert.Equal(t, 1, r.IndexOf(list, record.Of("id", "2")))
	assert.Equal(t, 1, r.IndexOf(list, record.Of("NOMBRE Y APELLIDO", "PEREZ", "DNI", "100")))
	assert.Equal(t, -1, r.IndexOf(list, record.Of("id", "3")))
	assert.Equal(t, "attributes", RuleAttributes.String())
}
