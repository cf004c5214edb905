package date_test

import (
	"testing"
	"time"

	"github.com/zephyrtronium/tinyscript/coreext/date"
	"github.com/zephyrtronium/tinyscript/internal"
	"github.com/zephyrtronium/tinyscript/testutils"
)

func TestRegister(t *testing.T) {
	vm := testutils.TestingVM()
	testutils.CheckGlobals(t, vm, []string{"Date"})
	obj, _ := vm.GetGlobal("Date")
	testutils.CheckFields(t, vm, obj, []string{"clock", "format", "now", "parse"})
}

func TestDate(t *testing.T) {
	cases := map[string]testutils.SourceTestCase{
		"now":         {Source: "Date.now() > 1500000000000", Pass: testutils.PassEqual("true")},
		"clock":       {Source: "Date.clock() >= 0", Pass: testutils.PassEqual("true")},
		"epoch":       {Source: "Date.format(0)", Pass: testutils.PassEqual(`"1970-01-01 00:00:00 UTC"`)},
		"format":      {Source: "Date.format(86400000 + 3723000, '%d %H:%M:%S')", Pass: testutils.PassEqual(`"02 01:02:03"`)},
		"parse":       {Source: "Date.parse('1970-01-02', '%Y-%m-%d')", Pass: testutils.PassEqual("86400000")},
		"roundTrip":   {Source: "Date.parse(Date.format(1234567000, '%Y-%m-%d %H:%M:%S'), '%Y-%m-%d %H:%M:%S')", Pass: testutils.PassEqual("1234567000")},
		"badParse":    {Source: "Date.parse('yesterday', '%Y-%m-%d')", Pass: testutils.PassFailure(internal.RangeError)},
		"invalidTime": {Source: "Date.format(NaN)", Pass: testutils.PassFailure(internal.RangeError)},
	}
	for name, c := range cases {
		t.Run(name, c.TestFunc(name))
	}
}

func TestMillis(t *testing.T) {
	if got := date.Millis(time.Unix(1, 5e8)); got != 1500 {
		t.Errorf("want 1500, got %d", got)
	}
}
