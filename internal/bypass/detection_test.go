package bypass

import "testing"

func TestDetectGoogle(t *testing.T) {
	tests := []struct {
		name string
		res  *Response
		want bool
	}{
		{
			name: "ordinary results page",
			res:  &Response{StatusCode: 200, FinalURL: "http://www.google.com/search?q=cats", Body: []byte(`<div id="rso"></div>`)},
			want: false,
		},
		{
			name: "redirected to sorry page",
			res:  &Response{StatusCode: 200, FinalURL: "https://www.google.com/sorry/index?continue=x"},
			want: true,
		},
		{
			name: "429 with captcha form",
			res:  &Response{StatusCode: 429, Body: []byte(`<form id="captcha-form" action="index">`)},
			want: true,
		},
		{
			name: "unusual traffic notice",
			res:  &Response{StatusCode: 403, Body: []byte("Our systems have detected unusual traffic from your computer network.")},
			want: true,
		},
		{
			name: "plain 503",
			res:  &Response{StatusCode: 503, Body: []byte("try later")},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, src := detectGoogle(tt.res)
			if got != tt.want {
				t.Errorf("expected detected=%v, got %v", tt.want, got)
			}
			if got && src != "Google" {
				t.Errorf("unexpected source %q", src)
			}
		})
	}
}

func TestDetectCloudflare(t *testing.T) {
	res := &Response{
		StatusCode: 200,
		Headers:    map[string][]string{"Server": {"nginx"}},
		Body:       []byte("OK"),
	}
	if detected, _ := detectCloudflare(res); detected {
		t.Errorf("expected not detected")
	}

	res = &Response{
		StatusCode: 403,
		Headers:    map[string][]string{"Server": {"cloudflare"}},
		Body:       []byte("Access Denied"),
	}
	if detected, src := detectCloudflare(res); !detected || src != "Cloudflare" {
		t.Errorf("expected Cloudflare detection by header")
	}

	res = &Response{
		StatusCode: 503,
		Headers:    map[string][]string{},
		Body:       []byte("<html>... cf-turnstile ...</html>"),
	}
	if detected, src := detectCloudflare(res); !detected || src != "Cloudflare" {
		t.Errorf("expected Cloudflare detection by body")
	}
}

func TestDetectAkamai(t *testing.T) {
	res := &Response{
		StatusCode: 403,
		Headers:    map[string][]string{"server": {"AkamaiGHost"}},
	}
	if detected, src := detectAkamai(res); !detected || src != "Akamai" {
		t.Errorf("expected Akamai detection by case-insensitive header")
	}

	res = &Response{
		StatusCode: 403,
		Body:       []byte("Access Denied... Reference #123.456"),
	}
	if detected, src := detectAkamai(res); !detected || src != "Akamai" {
		t.Errorf("expected Akamai detection by body")
	}
}

func TestDetectDataDome(t *testing.T) {
	res := &Response{
		StatusCode: 403,
		Headers:    map[string][]string{"X-DataDome": {"1"}},
	}
	if detected, src := detectDataDome(res); !detected || src != "DataDome" {
		t.Errorf("expected DataDome detection by header")
	}

	res = &Response{
		StatusCode: 403,
		Body:       []byte("script src='https://geo.captcha-delivery.com/...'"),
	}
	if detected, src := detectDataDome(res); !detected || src != "DataDome" {
		t.Errorf("expected DataDome detection by body")
	}
}

func TestDetectPerimeterX(t *testing.T) {
	res := &Response{
		StatusCode: 403,
		Headers:    map[string][]string{"X-Px-Captcha": {"required"}},
	}
	if detected, src := detectPerimeterX(res); !detected || src != "PerimeterX" {
		t.Errorf("expected PerimeterX detection by header")
	}

	res = &Response{
		StatusCode: 403,
		Body:       []byte("window._pxBlock = true;"),
	}
	if detected, src := detectPerimeterX(res); !detected || src != "PerimeterX" {
		t.Errorf("expected PerimeterX detection by body")
	}
}

func TestAnalyze(t *testing.T) {
	detectors := DefaultDetectors()

	detected, src := Analyze(&Response{
		StatusCode: 403,
		Headers:    map[string][]string{"X-DataDome": {"1"}},
	}, detectors)
	if !detected || src != "DataDome" {
		t.Errorf("expected DataDome detection, got %v %q", detected, src)
	}

	detected, src = Analyze(&Response{StatusCode: 200, Body: []byte("hello")}, detectors)
	if detected || src != "" {
		t.Errorf("expected clean response, got %v %q", detected, src)
	}

	if detected, _ := Analyze(nil, detectors); detected {
		t.Error("nil response must not be detected")
	}
}
