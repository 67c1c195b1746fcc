package realize

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCycle = time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC)

func testContext(leadHours int) Context {
	cycle := testCycle
	lead := time.Duration(leadHours) * time.Hour
	return Context{
		Cycle:    &cycle,
		Leadtime: &lead,
		Env:      map[string]string{"WX_HOME": "/home/wx", "WX_USER": "forecaster"},
	}
}

func TestDereference_Values(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		src  string
		path string
		want any
	}{
		"sole reference keeps int": {
			src:  "a: 1\nb: '{{ a }}'\n",
			path: "b",
			want: int64(1),
		},
		"sole reference keeps float": {
			src:  "a: 1.5\nb: '{{ a }}'\n",
			path: "b",
			want: 1.5,
		},
		"sole reference keeps bool": {
			src:  "a: true\nb: '{{ a }}'\n",
			path: "b",
			want: true,
		},
		"interpolated reference": {
			src:  "name: fv3\npath: /runs/{{ name }}/out\n",
			path: "path",
			want: "/runs/fv3/out",
		},
		"two references in one string": {
			src:  "a: x\nb: 2\nc: '{{ a }}-{{ b }}'\n",
			path: "c",
			want: "x-2",
		},
		"forward reference": {
			src:  "b: '{{ a.c }}'\na:\n  c: '{{ d }}'\nd: hello\n",
			path: "b",
			want: "hello",
		},
		"nested dotted path": {
			src:  "fv3:\n  exe: model.exe\nrun: '{{ fv3.exe }}'\n",
			path: "run",
			want: "model.exe",
		},
		"sequence index with brackets": {
			src:  "list: [a, b]\nsecond: '{{ list[1] }}'\n",
			path: "second",
			want: "b",
		},
		"sequence index with dot": {
			src:  "list: [a, b]\nfirst: '{{ list.0 }}'\n",
			path: "first",
			want: "a",
		},
		"reference inside sequence": {
			src:  "a: z\nitems: [x, '{{ a }}']\n",
			path: "items.1",
			want: "z",
		},
		"sequence interpolated in flow style": {
			src:  "l: [1, 2]\ns: 'values {{ l }}'\n",
			path: "s",
			want: "values [1, 2]",
		},
		"cycle as time": {
			src:  "c: '{{ cycle }}'\n",
			path: "c",
			want: "2024-05-05T12:00:00Z",
		},
		"valid time": {
			src:  "v: '{{ valid_time }}'\n",
			path: "v",
			want: "2024-05-05T18:00:00Z",
		},
		"leadtime as duration": {
			src:  "l: '{{ leadtime }}'\n",
			path: "l",
			want: "6h0m0s",
		},
		"strftime method sugar": {
			src:  "d: \"{{ cycle.strftime('%Y%m%d%H') }}\"\n",
			path: "d",
			want: "2024050512",
		},
		"strftime call with double quotes": {
			src:  "d: '{{ strftime(cycle, \"%H\") }}'\n",
			path: "d",
			want: "12",
		},
		"strftime of valid time": {
			src:  "d: \"/runs/{{ valid_time.strftime('%Y-%m-%dT%H') }}\"\n",
			path: "d",
			want: "/runs/2024-05-05T18",
		},
		"strftime of a time string": {
			src:  "t: 2024-01-02T03:00:00Z\nd: \"{{ strftime(t, '%j') }}\"\n",
			path: "d",
			want: "002",
		},
		"leadtime hours": {
			src:  "h: '{{ int(leadtime) }}'\n",
			path: "h",
			want: int64(6),
		},
		"add numbers": {
			src:  "a: 2\nb: '{{ add(a, 3) }}'\n",
			path: "b",
			want: int64(5),
		},
		"add strings": {
			src:  "b: \"{{ add('fv', '3') }}\"\n",
			path: "b",
			want: "fv3",
		},
		"add time and duration": {
			src:  "v: '{{ add(cycle, leadtime) }}'\n",
			path: "v",
			want: "2024-05-05T18:00:00Z",
		},
		"int of string": {
			src:  "s: '42'\nn: '{{ int(s) }}'\n",
			path: "n",
			want: int64(42),
		},
		"int truncates": {
			src:  "n: '{{ int(2.9) }}'\n",
			path: "n",
			want: int64(2),
		},
		"str of number": {
			src:  "a: 5\ns: '{{ str(a) }}'\n",
			path: "s",
			want: "5",
		},
		"negative literal": {
			src:  "n: '{{ -3 }}'\n",
			path: "n",
			want: int64(-3),
		},
		"string literal": {
			src:  "s: \"{{ 'text' }}\"\n",
			path: "s",
			want: "text",
		},
		"env namespace": {
			src:  "u: '{{ env.WX_USER }}'\n",
			path: "u",
			want: "forecaster",
		},
		"env substitution": {
			src:  "home: ${WX_HOME}/run\n",
			path: "home",
			want: "/home/wx/run",
		},
		"absent env passes through": {
			src:  "p: ${WX_NOT_SET}/run\n",
			path: "p",
			want: "${WX_NOT_SET}/run",
		},
		"env then expression": {
			src:  "dir: ${WX_HOME}\np: '{{ dir }}/x'\n",
			path: "p",
			want: "/home/wx/x",
		},
		"ambient overrides config key": {
			src:  "cycle: not-a-time\nc: '{{ cycle }}'\n",
			path: "c",
			want: "2024-05-05T12:00:00Z",
		},
		"whitespace inside braces": {
			src:  "a: 1\nb: '{{a}}'\n",
			path: "b",
			want: int64(1),
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := mustLoad(t, tt.src)
			out, err := Dereference(cfg, testContext(6))
			require.NoError(t, err)

			got, err := out.Select(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDereference_MappingReplacement(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, "base:\n  x: 1\n  y: [a]\ncopy: '{{ base }}'\n")
	out, err := Dereference(cfg, Context{})
	require.NoError(t, err)

	copied, err := out.Section("copy")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, copied.Root().Keys())

	// The replacement is a copy, not an alias of base.
	copied.Root().Set("x", int64(99))
	x, err := out.Select("base.x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), x)
}

func TestDereference_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		src   string
		ctx   Context
		check func(t *testing.T, err error)
	}{
		"mutual reference": {
			src: "x: '{{ y }}'\ny: '{{ x }}'\n",
			check: func(t *testing.T, err error) {
				var ce *CyclicReferenceError
				require.ErrorAs(t, err, &ce)
				assert.ElementsMatch(t, []string{"x", "y"}, ce.Locations)
			},
		},
		"self reference": {
			src: "x: 'a{{ x }}'\n",
			check: func(t *testing.T, err error) {
				var ce *CyclicReferenceError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, []string{"x"}, ce.Locations)
			},
		},
		"missing key": {
			src: "x: '{{ nope.deeper }}'\n",
			check: func(t *testing.T, err error) {
				var ue *UnresolvedReferenceError
				require.ErrorAs(t, err, &ue)
				assert.Equal(t, "x", ue.Location)
				assert.Equal(t, "nope.deeper", ue.Expr)
				assert.Contains(t, ue.Reason, "not found")
			},
		},
		"null target": {
			src: "a: null\nb: 'v={{ a }}'\n",
			check: func(t *testing.T, err error) {
				var ue *UnresolvedReferenceError
				require.ErrorAs(t, err, &ue)
				assert.Equal(t, "b", ue.Location)
				assert.Contains(t, ue.Reason, "null")
			},
		},
		"path through null": {
			src: "a:\n  b: null\nc: '{{ a.b.c }}'\n",
			check: func(t *testing.T, err error) {
				var ue *UnresolvedReferenceError
				require.ErrorAs(t, err, &ue)
				assert.Contains(t, ue.Reason, "null")
			},
		},
		"chain ending in missing key": {
			src: "x: '{{ y }}'\ny: '{{ z }}'\n",
			check: func(t *testing.T, err error) {
				var ue *UnresolvedReferenceError
				require.ErrorAs(t, err, &ue)
				assert.Equal(t, "y", ue.Location)
			},
		},
		"cycle not given": {
			src: "d: \"{{ cycle.strftime('%Y') }}\"\n",
			ctx: Context{},
			check: func(t *testing.T, err error) {
				var ue *UnresolvedReferenceError
				require.ErrorAs(t, err, &ue)
				assert.Contains(t, ue.Reason, "cycle")
			},
		},
		"unset env in expression": {
			src: "u: '{{ env.WX_NOT_SET }}'\n",
			ctx: Context{Env: map[string]string{}},
			check: func(t *testing.T, err error) {
				var ue *UnresolvedReferenceError
				require.ErrorAs(t, err, &ue)
				assert.Contains(t, ue.Reason, "WX_NOT_SET")
			},
		},
		"operator": {
			src: "a: 1\nb: '{{ a + 1 }}'\n",
			check: func(t *testing.T, err error) {
				var ee *ExpressionError
				require.ErrorAs(t, err, &ee)
				assert.Equal(t, "b", ee.Location)
				assert.Contains(t, ee.Message, "operators")
			},
		},
		"unknown function": {
			src: "b: '{{ upper(\"x\") }}'\n",
			check: func(t *testing.T, err error) {
				var ee *ExpressionError
				require.ErrorAs(t, err, &ee)
				assert.Contains(t, ee.Message, "upper")
			},
		},
		"interpolating template literal": {
			src: "a: 1\nb: '{{ \"x${a}\" }}'\n",
			check: func(t *testing.T, err error) {
				var ee *ExpressionError
				require.ErrorAs(t, err, &ee)
			},
		},
		"empty expression": {
			src: "b: 'x {{ }} y'\n",
			check: func(t *testing.T, err error) {
				var ee *ExpressionError
				require.ErrorAs(t, err, &ee)
				assert.Contains(t, ee.Message, "empty")
			},
		},
		"syntax error": {
			src: "b: '{{ a. }}'\n",
			check: func(t *testing.T, err error) {
				var ee *ExpressionError
				require.ErrorAs(t, err, &ee)
			},
		},
		"add mismatched types": {
			src: "a: 1\nb: \"{{ add(a, 'x') }}\"\n",
			check: func(t *testing.T, err error) {
				var ee *ExpressionError
				require.ErrorAs(t, err, &ee)
				assert.Contains(t, ee.Message, "cannot add")
			},
		},
		"int of garbage": {
			src: "b: \"{{ int('abc') }}\"\n",
			check: func(t *testing.T, err error) {
				var ee *ExpressionError
				require.ErrorAs(t, err, &ee)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := mustLoad(t, tt.src)
			_, err := Dereference(cfg, tt.ctx)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestDereference_PassBound(t *testing.T) {
	t.Parallel()

	// chain builds k01: {{ k02 }}, k02: {{ k03 }}, ... kNN: end so that each
	// pass resolves exactly one more link.
	chain := func(n int) string {
		var sb strings.Builder
		for i := 1; i < n; i++ {
			fmt.Fprintf(&sb, "k%02d: '{{ k%02d }}'\n", i, i+1)
		}
		fmt.Fprintf(&sb, "k%02d: end\n", n)
		return sb.String()
	}

	out, err := Dereference(mustLoad(t, chain(5)), Context{})
	require.NoError(t, err)
	first, err := out.Select("k01")
	require.NoError(t, err)
	assert.Equal(t, "end", first)

	_, err = Dereference(mustLoad(t, chain(12)), Context{})
	var ce *CyclicReferenceError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, MaxPasses, ce.Passes)
	assert.Contains(t, ce.Locations, "k01")
}

func TestDereference_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, "a: 1\nb: '{{ a }}'\nnested:\n  c: '{{ a }}'\n")
	before := cfg.Native()

	_, err := Dereference(cfg, Context{})
	require.NoError(t, err)
	assert.Equal(t, before, cfg.Native())
}

func TestDereference_Idempotent(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, `
rundir: ${WX_HOME}/{{ cycle.strftime('%Y%m%d%H') }}
untouched: ${WX_NOT_SET}
fv3:
  cores: 4
  total: '{{ add(fv3.cores, 2) }}'
  files:
    - '{{ rundir }}/a.nc'
`)
	ctx := testContext(0)

	once, err := Dereference(cfg, ctx)
	require.NoError(t, err)
	twice, err := Dereference(once, ctx)
	require.NoError(t, err)

	assert.Equal(t, once.Native(), twice.Native())
	assert.False(t, containsExpression(once.Root()))

	rundir, err := once.Select("rundir")
	require.NoError(t, err)
	assert.Equal(t, "/home/wx/2024050512", rundir)

	total, err := once.Select("fv3.total")
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)

	file, err := once.Select("fv3.files.0")
	require.NoError(t, err)
	assert.Equal(t, "/home/wx/2024050512/a.nc", file)
}

func TestValidTime(t *testing.T) {
	t.Parallel()

	_, ok := Context{}.ValidTime()
	assert.False(t, ok)

	cycle := testCycle
	vt, ok := Context{Cycle: &cycle}.ValidTime()
	require.True(t, ok)
	assert.Equal(t, testCycle, vt)

	ctx := testContext(30)
	vt, ok = ctx.ValidTime()
	require.True(t, ok)
	assert.Equal(t, testCycle.Add(30*time.Hour), vt)
}

func TestParseCycleAndLeadtime(t *testing.T) {
	t.Parallel()

	cycleTests := map[string]struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		"rfc3339":       {in: "2024-05-05T12:00:00Z", want: testCycle},
		"offset":        {in: "2024-05-05T14:00:00+02:00", want: testCycle},
		"compact":       {in: "2024050512", want: testCycle},
		"date and hour": {in: "2024-05-05T12", want: testCycle},
		"garbage":       {in: "yesterday", wantErr: true},
	}
	for name, tt := range cycleTests {
		t.Run("cycle "+name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCycle(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	leadTests := map[string]struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		"hours":      {in: "6", want: 6 * time.Hour},
		"fractional": {in: "1.5", want: 90 * time.Minute},
		"duration":   {in: "6h30m", want: 6*time.Hour + 30*time.Minute},
		"garbage":    {in: "soon", wantErr: true},
	}
	for name, tt := range leadTests {
		t.Run("leadtime "+name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLeadtime(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
