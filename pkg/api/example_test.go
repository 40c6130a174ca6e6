// pkg/api/example_test.go
package api_test

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/tycho01/parsz/internal/scraper"
	"github.com/tycho01/parsz/pkg/api"
)

func ExampleClient_ExtractHTML() {
	client, err := api.NewClient(nil)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	schema, err := api.ParseParselet([]byte(`
title: h1
links(li a):
  - "@href"
`))
	if err != nil {
		log.Fatal(err)
	}

	html := `<h1>Index</h1><ul><li><a href="/a">A</a></li><li><a href="/b">B</a></li></ul>`
	res, err := client.ExtractHTML(context.Background(), schema, html, "https://example.com/")
	if err != nil {
		log.Fatal(err)
	}

	out, _ := res.Data.MarshalJSON()
	fmt.Println(string(out))
	// Output: {"title":"Index","links":["/a","/b"]}
}

func ExampleWithFetcher() {
	pages := map[string]string{
		"https://example.com/":        `<h1>Reviews</h1><a class="author" href="/u/carol">Carol</a>`,
		"https://example.com/u/carol": `<h1>Carol L.</h1><span class="city">Austin</span>`,
	}
	fetcher := scraper.FetcherFunc(func(ctx context.Context, url string) (*scraper.Page, error) {
		body, ok := pages[url]
		if !ok {
			return nil, &scraper.FetchError{URL: url, StatusCode: 404}
		}
		return &scraper.Page{URL: url, StatusCode: 200, Body: []byte(body)}, nil
	})

	client, err := api.NewClient(nil, api.WithFetcher(fetcher), api.WithTransform("upper",
		func(v any) (any, error) {
			return strings.ToUpper(fmt.Sprint(v)), nil
		}))
	if err != nil {
		log.Fatal(err)
	}

	schema, err := api.ParseParselet([]byte(`
page: h1
author~(a.author):
  name: h1
  city: .city|upper
`))
	if err != nil {
		log.Fatal(err)
	}

	res, err := client.ExtractURL(context.Background(), schema, "https://example.com/")
	if err != nil {
		log.Fatal(err)
	}
	out, _ := res.Data.MarshalJSON()
	fmt.Println(string(out), res.Metadata.RemoteFetches)
	// Output: {"page":"Reviews","author":{"name":"Carol L.","city":"AUSTIN"}} 1
}
