package migration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondition_Kernel(t *testing.T) {
	c, err := ParseCondition(TraitKernel, OpGreaterEqual, "1.2.3-4567-aws")
	require.NoError(t, err)

	match, err := c.Matches("1.2.4-1-aws", "", 0)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = c.Matches("1.2.2-9999-aws", "", 0)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestParseCondition_LSBRelease(t *testing.T) {
	c, err := ParseCondition(TraitLSBRelease, OpGreaterEqual, "22.04")
	require.NoError(t, err)

	match, err := c.Matches("22.04", "", 0)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = c.Matches("20.04", "", 0)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestParseCondition_InstanceTypeIn(t *testing.T) {
	c, err := ParseCondition(TraitInstanceType, OpIn, "m5.4xlarge,r5.2xLARGE")
	require.NoError(t, err)

	match, err := c.Matches("", "r5.2xlarge", 0)
	require.NoError(t, err)
	assert.True(t, match, "instance type membership test should be case insensitive")

	match, err = c.Matches("", "c5.large", 0)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestParseCondition_UptimeDaySuffix(t *testing.T) {
	c, err := ParseCondition(TraitUptime, OpLessThan, "30d")
	require.NoError(t, err)

	match, err := c.Matches("", "", 29*24*time.Hour)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = c.Matches("", "", 31*24*time.Hour)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestParseCondition_UptimeBareInt(t *testing.T) {
	c, err := ParseCondition(TraitUptime, OpLessEqual, "1337")
	require.NoError(t, err)

	match, err := c.Matches("", "", 1337*time.Second)
	require.NoError(t, err)
	assert.True(t, match)
}

func TestParseCondition_InstanceTypeNotIn(t *testing.T) {
	c, err := ParseCondition(TraitInstanceType, OpNotIn, "m5.4xlarge,r5.2xLARGE")
	require.NoError(t, err)

	match, err := c.Matches("", "c5.large", 0)
	require.NoError(t, err)
	assert.True(t, match, "not-in membership should match instance types outside the list")

	match, err = c.Matches("", "m5.4xlarge", 0)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestParseCondition_InstanceTypeEqualAndNotEqual(t *testing.T) {
	eq, err := ParseCondition(TraitInstanceType, OpEqual, "m5.4xlarge")
	require.NoError(t, err)
	match, err := eq.Matches("", "M5.4XLARGE", 0)
	require.NoError(t, err)
	assert.True(t, match, "equality should be case insensitive")

	ne, err := ParseCondition(TraitInstanceType, OpNotEqual, "m5.4xlarge")
	require.NoError(t, err)
	match, err = ne.Matches("", "m5.4xlarge", 0)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestParseCondition_UptimeEqualAndNotEqual(t *testing.T) {
	eq, err := ParseCondition(TraitUptime, OpEqual, "1337")
	require.NoError(t, err)
	match, err := eq.Matches("", "", 1337*time.Second)
	require.NoError(t, err)
	assert.True(t, match)

	ne, err := ParseCondition(TraitUptime, OpNotEqual, "1337")
	require.NoError(t, err)
	match, err = ne.Matches("", "", 1337*time.Second)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestParseCondition_KernelEqual(t *testing.T) {
	c, err := ParseCondition(TraitKernel, OpEqual, "1.2.3-4567-aws")
	require.NoError(t, err)

	match, err := c.Matches("1.2.3-4567-aws", "", 0)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = c.Matches("1.2.4-1-aws", "", 0)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestParseCondition_ErrorCases(t *testing.T) {
	_, err := ParseCondition(TraitKernel, OpGreaterEqual, "not-a-version !!!")
	assert.Error(t, err)

	_, err = ParseCondition(TraitInstanceType, OpGreaterEqual, "m5.4xlarge")
	assert.Error(t, err, "ordered operator on instance_type should be rejected")

	_, err = ParseCondition(TraitUptime, OpIn, "30d")
	assert.Error(t, err, "in operator on uptime should be rejected")

	_, err = ParseCondition(TraitUptime, OpLessThan, "not-a-duration")
	assert.Error(t, err)
}

func TestCondition_SerializeRoundTrip(t *testing.T) {
	original, err := ParseCondition(TraitUptime, OpLessThan, "30d")
	require.NoError(t, err)

	trait, op, target := original.Serialize()
	reparsed, err := ParseCondition(trait, op, target)
	require.NoError(t, err)

	assert.True(t, original.Equal(reparsed))
}
