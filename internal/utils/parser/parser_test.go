package parser

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

type options struct {
	Force  bool   `form:"force"`
	Filter string `form:"filter_name"`
	Limit  *int   `form:"limit"`
	Skip   string
}

func TestParseQuery(t *testing.T) {
	app := fiber.New()
	var got options
	app.Get("/", func(c *fiber.Ctx) error {
		got = options{Filter: "kept"}
		return ParseQuery(c, &got)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/?force=yes&limit=5&Skip=x", nil))
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("request failed: %v %v", resp, err)
	}
	if !got.Force || got.Filter != "kept" || got.Limit == nil || *got.Limit != 5 || got.Skip != "" {
		t.Fatalf("unexpected binding %+v", got)
	}
}

func TestParseQueryRejectsBadValues(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		var o options
		if err := ParseQuery(c, &o); err != nil {
			return c.SendStatus(400)
		}
		return c.SendStatus(200)
	})
	resp, _ := app.Test(httptest.NewRequest("GET", "/?force=maybe", nil))
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestBindRejectsNonPointer(t *testing.T) {
	lookup := func(string) string { return "" }
	if err := Bind(lookup, options{}); err == nil {
		t.Fatal("non-pointer output must be rejected")
	}
	var nilOpts *options
	if err := Bind(lookup, nilOpts); err == nil {
		t.Fatal("nil pointer must be rejected")
	}
}

func TestBindFromMap(t *testing.T) {
	values := map[string]string{"force": "off", "filter_name": " Catan ", "limit": "12"}
	o := options{Force: true}
	if err := Bind(func(name string) string { return values[name] }, &o); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if o.Force || o.Filter != "Catan" || o.Limit == nil || *o.Limit != 12 {
		t.Fatalf("unexpected binding %+v", o)
	}
}
