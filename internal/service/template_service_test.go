package service_test

import (
	"testing"

	"github.com/komi12345/ChatbotFrance-sub000/internal/model"
	"github.com/komi12345/ChatbotFrance-sub000/internal/service"
)

func TestRenderTemplate(t *testing.T) {
	recipient := &model.Recipient{
		FirstName:        "Alice",
		LastName:         "Martin",
		Location:         "Paris",
		PreferredProduct: "Sneakers",
	}

	cases := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "all placeholders",
			template: "Hi {first_name} {last_name}, {preferred_product} now in {location}!",
			want:     "Hi Alice Martin, Sneakers now in Paris!",
		},
		{
			name:     "repeated placeholder",
			template: "{first_name}, yes you, {first_name}",
			want:     "Alice, yes you, Alice",
		},
		{
			name:     "no placeholders",
			template: "plain text",
			want:     "plain text",
		},
		{
			name:     "unknown placeholder left alone",
			template: "Hi {nickname}",
			want:     "Hi {nickname}",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := service.RenderTemplate(tc.template, recipient); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRenderTemplateMissingFields(t *testing.T) {
	recipient := &model.Recipient{FirstName: "Alice"}
	got := service.RenderTemplate("Hi {first_name} from {location}", recipient)
	if got != "Hi Alice from <unknown>" {
		t.Errorf("empty fields must render as <unknown>, got %q", got)
	}
}
