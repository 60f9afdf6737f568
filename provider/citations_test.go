package provider

import (
	"reflect"
	"testing"
)

func TestMergeCitations(t *testing.T) {
	tests := []struct {
		name    string
		body    []string
		channel []string
		want    []string
	}{
		{
			name: "body before channel",
			body: []string{"https://a.test/1"},
			channel: []string{"https://b.test/2"},
			want: []string{"https://a.test/1", "https://b.test/2"},
		},
		{
			name: "duplicates keep first occurrence",
			body: []string{"https://a.test/1", "https://b.test/2"},
			channel: []string{"https://b.test/2", "https://c.test/3"},
			want: []string{"https://a.test/1", "https://b.test/2", "https://c.test/3"},
		},
		{
			name: "non-http entries dropped",
			body: []string{"ftp://a.test/1", "not a url", "https://keep.test"},
			channel: []string{"mailto:owner@a.test", "http://also.test"},
			want: []string{"https://keep.test", "http://also.test"},
		},
		{
			name: "whitespace trimmed",
			body: []string{"  https://a.test/1  "},
			want: []string{"https://a.test/1"},
		},
		{
			name: "both empty",
			want: []string{},
		},
		{
			name: "scheme check is case-insensitive",
			body: []string{"HTTPS://a.test/1"},
			want: []string{"HTTPS://a.test/1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeCitations(tt.body, tt.channel)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeCitations = %v, want %v", got, tt.want)
			}
		})
	}
}
