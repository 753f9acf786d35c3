// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package browser

import "strings"

// printCSS is injected before PDF generation. It keeps colors, strips
// fixed/sticky page chrome and overlays, and forces long content to wrap
// instead of clipping at the page edge.
const printCSS = `
* {
  -webkit-print-color-adjust: exact !important;
  print-color-adjust: exact !important;
}
header, nav, footer,
[class*="navbar"], [class*="header-bar"], [class*="sidebar"], [class*="side-bar"],
[class*="sticky"], [class*="fixed-top"], [class*="bottom-bar"],
[style*="position: fixed"], [style*="position:fixed"],
[style*="position: sticky"], [style*="position:sticky"] {
  display: none !important;
}
pre, code, table, blockquote {
  white-space: pre-wrap !important;
  word-break: break-word !important;
  overflow-wrap: anywhere !important;
  overflow-x: visible !important;
  max-width: 100% !important;
}
img, video, iframe, figure {
  max-width: 100% !important;
}
sup, sub {
  vertical-align: baseline !important;
  position: relative !important;
  font-size: 0.75em !important;
}
sup { top: -0.4em; }
sub { top: 0.4em; }
[class*="footnote-tooltip"], [class*="tooltip"], [class*="hovercard"] {
  display: none !important;
}
dialog, [role="dialog"],
[class*="modal"], [class*="overlay"], [class*="popup"], [class*="paywall-bar"] {
  display: none !important;
}
`

// privacyFilterJS hides every block whose text mentions a filter term,
// unless that block is a recognized content container. Takes the term
// list as its argument and returns the number of hidden elements.
const privacyFilterJS = `(terms) => {
  const lowered = (terms || []).map((t) => String(t).toLowerCase()).filter(Boolean);
  if (!lowered.length || !document.body) return 0;
  const blockTags = new Set(['DIV', 'SPAN', 'P', 'LI', 'A', 'SECTION', 'ARTICLE', 'ASIDE']);
  const allowed = ['content', 'article', 'main', 'story', 'post-body'];
  const ident = (el) => ((el.id || '') + ' ' + (typeof el.className === 'string' ? el.className : '')).toLowerCase();
  const isContainer = (el) => allowed.some((a) => ident(el).includes(a));

  const nodes = [];
  const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
  while (walker.nextNode()) nodes.push(walker.currentNode);

  let hidden = 0;
  for (const node of nodes) {
    const text = (node.textContent || '').toLowerCase();
    if (!lowered.some((t) => text.includes(t))) continue;
    let el = node.parentElement;
    while (el && el !== document.body) {
      const display = window.getComputedStyle(el).display;
      const blocky = display === 'block' || display === 'flex' || display === 'grid' || blockTags.has(el.tagName);
      if (blocky) {
        if (!isContainer(el) && el.style.display !== 'none') {
          el.style.setProperty('display', 'none', 'important');
          hidden++;
        }
        break;
      }
      el = el.parentElement;
    }
  }
  return hidden;
}`

// scrollStepJS advances one step and reports whether the bottom of the
// document was reached.
const scrollStepJS = `() => {
  window.scrollBy(0, 1000);
  return window.scrollY + window.innerHeight >= document.body.scrollHeight;
}`

const scrollTopJS = `() => window.scrollTo(0, 0)`

// titleSuffixes are site decorations stripped from extracted page titles.
var titleSuffixes = []string{
	" | Hacker News",
	" - YouTube",
	" | Substack",
	" - Substack",
	" / X",
	" / Twitter",
	" on X",
	" | nitter",
}

func trimTitleSuffix(title string) string {
	t := strings.TrimSpace(title)
	for _, suffix := range titleSuffixes {
		if strings.HasSuffix(t, suffix) {
			return strings.TrimSpace(strings.TrimSuffix(t, suffix))
		}
	}
	return t
}
