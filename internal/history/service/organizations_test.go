package service

import (
	"testing"

	"github.com/smallbiznis/primerouter/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrganizationLookup(t *testing.T) {
	holder, err := settings.NewStaticHolder([]settings.Organization{
		{
			Name:        "co-phd",
			Description: "Colorado Department of Public Health",
			Receivers:   []settings.Receiver{{Name: "elr", Topic: settings.TopicCovid19, CustomerStatus: settings.CustomerStatusActive}},
		},
		{
			Name:      "md-phd",
			Receivers: []settings.Receiver{{Name: "csv", Topic: settings.TopicCovid19, CustomerStatus: settings.CustomerStatusActive}},
		},
	})
	require.NoError(t, err)
	lookup := NewOrganizationLookup(holder)

	assert.Equal(t, "Colorado Department of Public Health", lookup.DisplayName("co-phd", "elr"))
	assert.Equal(t, "Colorado Department of Public Health", lookup.DisplayName("co-phd", "elr"))
	assert.Equal(t, "md-phd", lookup.DisplayName("md-phd", "csv"))
	assert.Empty(t, lookup.DisplayName("co-phd", "missing"))
	assert.Empty(t, lookup.DisplayName("nowhere", "elr"))
}
