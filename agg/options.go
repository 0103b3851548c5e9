package agg

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Options configures a single stage call. Build them with StageOption
// functions or decode them from a generic document with DecodeOptions.
type Options struct {
	// Only refuses the stage if the label has been registered by an Alone
	// stage.
	Only string `option:"only"`
	// NotOnly refuses the stage unless the label has been registered by an
	// Alone stage.
	NotOnly string `option:"notOnly"`
	// Alone keeps only the first stage of this kind carrying the label.
	Alone string `option:"alone"`

	// Smart, And and Or make Match accumulate criteria in $and/$or arrays.
	Smart bool `option:"smart"`
	And   bool `option:"and"`
	Or    bool `option:"or"`

	// Unwind adds an $unwind stage on the lookup output field.
	Unwind                     bool   `option:"unwind"`
	PreserveNullAndEmptyArrays *bool  `option:"preserveNullAndEmptyArrays"`
	IncludeArrayIndex          string `option:"includeArrayIndex"`

	// CheckLookup lists group key fields that reference a looked-up
	// document and must be grouped by its _id.
	CheckLookup []string `option:"checkLookup"`

	ApplyLookup   *Lookup       `option:"-"`
	LookupOptions []StageOption `option:"-"`
}

type StageOption func(o *Options)

func Only(label string) StageOption {
	return func(o *Options) {
		o.Only = label
	}
}

func NotOnly(label string) StageOption {
	return func(o *Options) {
		o.NotOnly = label
	}
}

func Alone(label string) StageOption {
	return func(o *Options) {
		o.Alone = label
	}
}

// SmartMatch makes Match append its criteria to the filter's $and array
// instead of merging keys.
func SmartMatch() StageOption {
	return func(o *Options) {
		o.Smart = true
	}
}

// MatchAll is SmartMatch spelled for readability next to MatchAny.
func MatchAll() StageOption {
	return func(o *Options) {
		o.And = true
	}
}

// MatchAny makes Match append its criteria to the filter's $or array.
func MatchAny() StageOption {
	return func(o *Options) {
		o.Or = true
	}
}

// UnwindLookup makes Lookup follow its stage with an $unwind of the output
// field.
func UnwindLookup() StageOption {
	return func(o *Options) {
		o.Unwind = true
	}
}

func PreserveNullAndEmptyArrays(preserve bool) StageOption {
	return func(o *Options) {
		o.PreserveNullAndEmptyArrays = &preserve
	}
}

func IncludeArrayIndex(field string) StageOption {
	return func(o *Options) {
		o.IncludeArrayIndex = field
	}
}

func CheckLookup(fields ...string) StageOption {
	return func(o *Options) {
		o.CheckLookup = append(o.CheckLookup, fields...)
	}
}

// ApplyLookup makes AmendGroup move the amended $group after a $lookup
// built from l and opts.
func ApplyLookup(l Lookup, opts ...StageOption) StageOption {
	return func(o *Options) {
		o.ApplyLookup = &l
		o.LookupOptions = opts
	}
}

// WithOptions applies a decoded Options value, e.g. one returned by
// DecodeOptions.
func WithOptions(opts Options) StageOption {
	return func(o *Options) {
		*o = opts
	}
}

// DecodeOptions decodes a generic options document, as found in pipeline
// definition files, into Options. Unknown keys are an error.
func DecodeOptions(input map[string]any) (Options, error) {
	var opts Options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "option",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &opts,
	})
	if err != nil {
		return Options{}, err
	}
	if err := dec.Decode(input); err != nil {
		return Options{}, errors.Wrap(err, "decoding stage options")
	}
	return opts, nil
}

func collectOptions(opts []StageOption) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o Options) smart() bool {
	return o.Smart || o.And || o.Or
}

func (o Options) preserveNullAndEmptyArrays() bool {
	return o.PreserveNullAndEmptyArrays == nil || *o.PreserveNullAndEmptyArrays
}
