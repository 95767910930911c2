package s3

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ohlcvd/pkg/fetch"
)

func TestObjectKey(t *testing.T) {
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		template string
		want     string
	}{
		{
			template: "us_stocks_sip/day_aggs_v1/{year}/{month}/{year}-{month}-{day}.csv.gz",
			want:     "us_stocks_sip/day_aggs_v1/2024/03/2024-03-05.csv.gz",
		},
		{
			template: "{year}{month}{day}.csv",
			want:     "20240305.csv",
		},
		{
			template: "static/path.csv",
			want:     "static/path.csv",
		},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ObjectKey(tt.template, day))
	}
}

func TestObjectKeyNormalizesToUTC(t *testing.T) {
	eastern := time.FixedZone("EST", -5*3600)
	day := time.Date(2024, 3, 5, 22, 0, 0, 0, eastern) // already 03-06 in UTC
	require.Equal(t, "2024-03-06.csv.gz", ObjectKey("{year}-{month}-{day}.csv.gz", day))
}

func TestNewProviderValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  fetch.ProviderConfig
		want string
	}{
		{
			name: "missing endpoint",
			cfg:  fetch.ProviderConfig{Bucket: "flatfiles", PathTemplate: "{year}.csv"},
			want: "endpoint is required",
		},
		{
			name: "missing bucket",
			cfg:  fetch.ProviderConfig{Endpoint: "files.example.com", PathTemplate: "{year}.csv"},
			want: "bucket is required",
		},
		{
			name: "missing template",
			cfg:  fetch.ProviderConfig{Endpoint: "files.example.com", Bucket: "flatfiles"},
			want: "path_template is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider("polygon", &tt.cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewProviderDefaults(t *testing.T) {
	p, err := NewProvider("polygon", &fetch.ProviderConfig{
		Endpoint:     "files.example.com",
		Bucket:       "flatfiles",
		PathTemplate: "{year}-{month}-{day}.csv.gz",
	})
	require.NoError(t, err)
	require.Equal(t, defaultFetchTimeout, p.timeout)
	require.Equal(t, "flatfiles", p.bucket)
}
