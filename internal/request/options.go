package request

import (
	"strconv"
	"strings"

	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/query"
	"github.com/nlstn/go-odata-classic/internal/segment"
	"github.com/nlstn/go-odata-classic/internal/uri"
)

// Accepted values of $inlinecount.
const (
	InlineCountAllPages = "allpages"
	InlineCountNone     = "none"
)

// Options configures query option compilation.
type Options struct {
	Resolver       query.NavigationResolver
	Expressions    *query.ExpressionProvider
	MaxExpandDepth int
}

// ProcessQueryOptions validates the system query options of the request URL and
// compiles them onto d.
func ProcessQueryOptions(d *Description, opts Options) error {
	u := d.url
	if u == nil {
		return nil
	}
	if err := u.ValidateQueryParameters(); err != nil {
		return err
	}

	last := d.LastSegment()
	if last == nil {
		return nil
	}
	target := last
	if last.Kind == segment.KindCount {
		target = last.Prev()
	}

	setQueryApplicable := target.Kind == segment.KindResourceSet
	pagingApplicable := setQueryApplicable && last.Kind != segment.KindCount
	expandSelectApplicable := !d.IsLinkURI() && last.Kind != segment.KindCount &&
		(last.Kind == segment.KindResource || last.Kind == segment.KindResourceSet)

	item := func(name string) (string, bool) {
		v, ok := u.QueryStringItem(name)
		if ok && strings.TrimSpace(v) == "" {
			return "", false
		}
		return v, ok
	}

	for _, name := range []string{uri.OptionOrderBy, uri.OptionSkip, uri.OptionTop, uri.OptionInlineCount, uri.OptionFilter} {
		if _, ok := item(name); ok && !setQueryApplicable {
			return odataerr.BadRequest("Query options $filter, $orderby, $inlinecount, $skip and $top cannot be applied to the requested resource")
		}
	}
	for _, name := range []string{uri.OptionExpand, uri.OptionSelect} {
		if _, ok := item(name); ok && !expandSelectApplicable {
			return odataerr.BadRequest("Query options $expand and $select cannot be applied to the requested resource")
		}
	}

	if v, ok := item(uri.OptionSkip); ok {
		n, err := parseCount(uri.OptionSkip, v)
		if err != nil {
			return err
		}
		d.skipCount = &n
	}
	if v, ok := item(uri.OptionTop); ok {
		n, err := parseCount(uri.OptionTop, v)
		if err != nil {
			return err
		}
		d.topOptionCount = &n
		top := n
		d.topCount = &top
	}

	if v, ok := item(uri.OptionInlineCount); ok {
		if last.Kind == segment.KindCount {
			return odataerr.BadRequest("$inlinecount cannot be applied to the resource segment '%s'", segment.SegmentCount)
		}
		switch strings.TrimSpace(v) {
		case InlineCountAllPages:
			d.QueryType = query.QueryEntitiesWithCount
		case InlineCountNone:
			d.QueryType = query.QueryEntities
		default:
			return odataerr.BadRequest("Unknown $inlinecount option, only \"allpages\" and \"none\" are supported")
		}
	}

	if v, ok := item(uri.OptionFilter); ok {
		if opts.Expressions == nil {
			return odataerr.Unexpected("an expression provider to compile $filter")
		}
		info, err := opts.Expressions.Compile(v, target.ResourceType)
		if err != nil {
			return err
		}
		d.filter = info
	}

	wrapper := target.ResourceSetWrapper
	paged := pagingApplicable && wrapper != nil && wrapper.IsPaged()

	if v, ok := item(uri.OptionOrderBy); ok {
		info, err := query.ParseOrderBy(v, target.ResourceType)
		if err != nil {
			return err
		}
		d.orderBy = info
	} else if paged {
		d.orderBy = query.KeyOrderBy(target.ResourceType)
	}

	if paged && d.QueryType.NeedsEntities() {
		pageSize := wrapper.PageSize()
		if d.topCount == nil || *d.topCount > pageSize {
			d.topCount = &pageSize
		}
	}

	if v, ok := item(uri.OptionSkipToken); ok {
		if !paged {
			return odataerr.BadRequest("Query option $skiptoken cannot be applied to the requested resource; it is only allowed on paged resource sets")
		}
		info, err := query.ParseSkipToken(v, d.orderBy)
		if err != nil {
			return err
		}
		d.skipToken = info
	}

	if !expandSelectApplicable {
		return nil
	}
	expand, hasExpand := item(uri.OptionExpand)
	sel, hasSelect := item(uri.OptionSelect)
	if !hasExpand && !hasSelect && !paged {
		return nil
	}
	var rootOrder *query.OrderByInfo
	if paged {
		rootOrder = d.orderBy
	}
	root := query.NewRootProjectionNode(wrapper, rootOrder)
	if hasExpand || hasSelect {
		if opts.Resolver == nil {
			return odataerr.Unexpected("a navigation resolver to apply $expand and $select")
		}
		if err := query.ApplyExpandAndSelect(root, expand, sel, opts.Resolver, opts.MaxExpandDepth); err != nil {
			return err
		}
	}
	d.root = root
	return nil
}

func parseCount(option, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0, odataerr.BadRequest("Incorrect format for %s, expecting a non-negative integer, got '%s'", option, value)
	}
	return n, nil
}
