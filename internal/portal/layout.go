package portal

// Layout is the selector vocabulary of the rexx time-management pages.
type Layout struct {
	Username string
	Password string
	Submit   string

	StartFrame   string
	MenuItem     string
	ListingFrame string

	Row string
	// SaldoCell is looked up inside a row.
	SaldoCell string
	// RowDatePrefix prefixes the date class of a row, e.g. grid_row_pr_2024-05-06.
	RowDatePrefix string
	// BookingLinks are tried in order inside the row.
	BookingLinks []string
	FormFrame    string

	// FromInputs and ToInputs are tried in order; TimeInputs is the positional fallback.
	FromInputs []string
	ToInputs   []string
	TimeInputs string

	Save           string
	SaveScan       string
	SaveVocabulary []string
	Widget         string
}

func DefaultLayout() Layout {
	return Layout{
		Username: "#loginform_username",
		Password: "#password",
		Submit:   "#submit",

		StartFrame:   "iframe#Start",
		MenuItem:     "#menu_666_item",
		ListingFrame: "iframe#Unten",

		Row:           "tr.grid_row",
		SaldoCell:     "td:nth-child(5)",
		RowDatePrefix: "grid_row_pr_",
		BookingLinks: []string{
			`a[aria-label="Zeitbuchung erfassen"]`,
			`a[title*="Zeitbuchung"]`,
			"a",
		},
		FormFrame: "iframe#time_workflow_form_layer_iframe",

		FromInputs: []string{`[id="1173_from"]`, `[name="1173[from]"]`, "#row_ZEIT input.stdformelem_time:first-of-type"},
		ToInputs:   []string{`[id="1173_to"]`, `[name="1173[to]"]`, "#row_ZEIT input.stdformelem_time:nth-of-type(2)"},
		TimeInputs: "#row_ZEIT input.stdformelem_time",

		Save:           "a#application_creation_toolbar_save",
		SaveScan:       "a",
		SaveVocabulary: []string{"Beantragen", "Speichern"},
		Widget:         "div#my_timemanagement_widget",
	}
}
