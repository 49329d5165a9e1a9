package browser

// jsPrelude is injected ahead of every evaluated script. It implements a
// deliberately small subset of Playwright's locator semantics directly in
// the page's JS context, since the
// restricted AST interpreter in internal/step only validates the *shape* of
// a locatorExpression — something still has to run it against a live page.
// This is a best-effort re-implementation, not a full engine: it covers the
// accessible-name/testid/text strategies the candidate generator actually
// emits (internal/candidate) and nothing more exotic.
const jsPrelude = `
function __lqWrap(elements) {
  return {
    elements: elements,
    filter: function(opts) {
      var list = this.elements;
      if (opts && opts.hasText !== undefined) {
        var needle = opts.hasText;
        list = list.filter(function(el) {
          var t = (el.textContent || '').trim();
          if (needle && typeof needle === 'object' && needle.source) {
            return new RegExp(needle.source, needle.flags || '').test(t);
          }
          return t.indexOf(String(needle)) !== -1;
        });
      }
      return __lqWrap(list);
    },
    first: function() { return __lqWrap(this.elements.slice(0, 1)); },
    last: function() { return __lqWrap(this.elements.slice(-1)); },
    nth: function(n) { return __lqWrap(this.elements.slice(n, n + 1)); },
    and: function(other) {
      var os = other.elements;
      return __lqWrap(this.elements.filter(function(e) { return os.indexOf(e) !== -1; }));
    },
    or: function(other) {
      var merged = this.elements.slice();
      other.elements.forEach(function(e) { if (merged.indexOf(e) === -1) merged.push(e); });
      return __lqWrap(merged);
    }
  };
}

var __implicitRoleTags = {
  button: 'button, input[type="button"], input[type="submit"]',
  link: 'a[href]',
  checkbox: 'input[type="checkbox"]',
  radio: 'input[type="radio"]',
  textbox: 'input[type="text"], input:not([type]), textarea',
  heading: 'h1, h2, h3, h4, h5, h6',
  img: 'img',
  list: 'ul, ol',
  listitem: 'li',
  combobox: 'select'
};

function __accessibleName(el) {
  var labelledby = el.getAttribute && el.getAttribute('aria-labelledby');
  if (labelledby) {
    var parts = labelledby.split(/\s+/).map(function(id) {
      var ref = document.getElementById(id);
      return ref ? (ref.textContent || '').trim() : '';
    });
    var joined = parts.join(' ').trim();
    if (joined) return joined;
  }
  var label = el.getAttribute && el.getAttribute('aria-label');
  if (label) return label;
  if (el.id) {
    var forLabel = document.querySelector('label[for="' + el.id + '"]');
    if (forLabel) return (forLabel.textContent || '').trim();
  }
  if (el.closest) {
    var wrapping = el.closest('label');
    if (wrapping) return (wrapping.textContent || '').trim();
  }
  if (el.title) return el.title;
  if (el.tagName === 'IMG' && el.alt) return el.alt;
  return (el.textContent || '').trim();
}

function getByRole(role, opts) {
  var selector = __implicitRoleTags[role] || ('[role="' + role + '"]');
  var all = Array.from(document.querySelectorAll('[role="' + role + '"], ' + selector));
  var seen = [];
  all.forEach(function(e) { if (seen.indexOf(e) === -1) seen.push(e); });
  var name = opts && opts.name;
  if (name !== undefined) {
    seen = seen.filter(function(el) {
      var actual = __accessibleName(el).trim();
      if (name && typeof name === 'object' && name.source) {
        return new RegExp(name.source, name.flags || '').test(actual);
      }
      return actual === String(name);
    });
  }
  return __lqWrap(seen);
}

function getByText(text, opts) {
  var exact = opts && opts.exact;
  var all = Array.from(document.querySelectorAll('body *')).filter(function(el) {
    return el.children.length === 0 || el.childNodes.length && Array.from(el.childNodes).some(function(n) { return n.nodeType === 3 && n.textContent.trim(); });
  });
  var matches = all.filter(function(el) {
    var t = (el.textContent || '').trim();
    if (!t) return false;
    if (text && typeof text === 'object' && text.source) {
      return new RegExp(text.source, text.flags || '').test(t);
    }
    return exact ? t === String(text) : t.indexOf(String(text)) !== -1;
  });
  return __lqWrap(matches);
}

function getByLabel(text, opts) {
  var all = Array.from(document.querySelectorAll('input, textarea, select'));
  var matches = all.filter(function(el) {
    var name = __accessibleName(el).trim();
    if (opts && opts.exact) return name === String(text);
    return name.indexOf(String(text)) !== -1;
  });
  return __lqWrap(matches);
}

function getByPlaceholder(text) {
  return __lqWrap(Array.from(document.querySelectorAll('[placeholder]')).filter(function(el) {
    return (el.getAttribute('placeholder') || '').indexOf(String(text)) !== -1;
  }));
}

function getByTestId(id) {
  return __lqWrap(Array.from(document.querySelectorAll('[data-testid="' + id + '"]')));
}

function getByTitle(text) {
  return __lqWrap(Array.from(document.querySelectorAll('[title]')).filter(function(el) {
    return (el.getAttribute('title') || '').indexOf(String(text)) !== -1;
  }));
}

function getByAltText(text) {
  return __lqWrap(Array.from(document.querySelectorAll('[alt]')).filter(function(el) {
    return (el.getAttribute('alt') || '').indexOf(String(text)) !== -1;
  }));
}

function locator(selector) {
  return __lqWrap(Array.from(document.querySelectorAll(selector)));
}

function __isVisible(el) {
  if (!el || !el.isConnected) return false;
  var style = window.getComputedStyle(el);
  if (style.display === 'none' || style.visibility === 'hidden' || parseFloat(style.opacity) === 0) return false;
  if (el.disabled) return false;
  var rect = el.getBoundingClientRect();
  if (rect.width === 0 || rect.height === 0) return false;
  if (rect.bottom < 0 || rect.right < 0 || rect.top > window.innerHeight || rect.left > window.innerWidth) return false;
  return true;
}
`
