package tapmc

const boardHTML = `<html><body>
<table><tr class="title"><td>臺北市場</td><td>113年6月</td></tr></table>
<div class="calendar"><span class="today-day"> 14 </span></div>
<div class="price-head"><div>品名</div><div>品種</div><div>上價</div><div>中價</div><div>下價</div></div>
<table class="price-table"><tbody>
<tr><td>甘藍</td><td>初秋</td><td>30.5</td><td>22.1</td><td>15</td></tr>
<tr><td>蒜頭</td><td>乾</td><td>1,200</td><td>95.3</td><td>0</td></tr>
<tr><td></td><td></td><td></td><td></td><td></td></tr>
</tbody></table>
</body></html>`

const holidayHTML = `<html><body>
<table><tr class="title"><td>臺北市場</td><td>113年6月</td></tr></table>
<span class="today-day">15</span>
<span class="selected-day seletected-today-day">15</span>
</body></html>`

const changedHTML = `<html><body>
<table><tr class="title"><td>臺北市場</td><td>2024年6月</td></tr></table>
<span class="today-day">14</span>
<div class="price-head"><div>品名</div><div>品種</div><div>最高價</div><div>中價</div><div>下價</div></div>
<table class="price-table"><tbody>
<tr><td>甘藍</td><td>初秋</td><td>30.5</td><td>22.1</td><td>15</td></tr>
</tbody></table>
</body></html>`
