// Package pagination implements the cursor paginator used by every resource
// loop of the tap.
//
// SearchStax returns the next page either as a full URL ("next") or as a
// bare continuation value ("next_page"). Both forms are reduced to query
// parameters that are merged onto the base request:
//
//	p := pagination.New("")
//	p.Start()
//	for {
//	    page := fetch(params)
//	    next, ok := p.Next(page, base)
//	    if !ok {
//	        break
//	    }
//	    p.Fetching()
//	    params = next
//	}
//
// States move INIT -> FETCHING -> (MORE -> FETCHING)* -> DONE. A page whose
// indicator repeats the previous one ends the loop, so a misbehaving upstream
// cannot make the tap paginate forever.
package pagination
