package typing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_Summary(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		self  string
		want  string
	}{
		{name: "nobody", want: ""},
		{name: "one", names: []string{"Ann"}, want: "Ann is typing"},
		{name: "two", names: []string{"Ann", "Bo"}, want: "Ann and Bo are typing"},
		{name: "three", names: []string{"Ann", "Bo", "Cy"}, want: "Several people are typing"},
		{name: "self excluded", names: []string{"Ann", "Me"}, self: "Me", want: "Ann is typing"},
		{name: "only self", names: []string{"Me"}, self: "Me", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSet()
			for _, n := range tt.names {
				s.Add(n)
			}
			assert.Equal(t, tt.want, s.Summary(tt.self))
		})
	}
}

func TestSet_Mutations(t *testing.T) {
	s := NewSet()
	assert.True(t, s.Add("Ann"))
	assert.False(t, s.Add("Ann"))
	assert.False(t, s.Add(""))
	s.Add("Bo")
	s.Add("Cy")

	s.Rename("Bo", "Bob")
	assert.Equal(t, []string{"Ann", "Bob", "Cy"}, s.Names())

	s.Rename("Cy", "Ann")
	assert.Equal(t, []string{"Ann", "Bob"}, s.Names())

	assert.True(t, s.Remove("Ann"))
	assert.False(t, s.Remove("Ann"))
	assert.Equal(t, "Bob is typing", s.Summary(""))

	s.Clear()
	assert.Empty(t, s.Names())
}
